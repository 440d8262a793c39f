package paymentplan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/presale-api/internal/pricing"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sumDue(entries []ScheduleEntry) pricing.Money {
	var total pricing.Money
	for _, e := range entries {
		total += e.AmountDue
	}
	return total
}

func TestGenerateScheduleSplitsRemainderIntoLastEntry(t *testing.T) {
	entries, err := GenerateSchedule(10000, 3, Weekly, date(2025, 1, 1))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, pricing.Money(3333), entries[0].AmountDue)
	require.Equal(t, pricing.Money(3333), entries[1].AmountDue)
	require.Equal(t, pricing.Money(3334), entries[2].AmountDue)
	require.Equal(t, pricing.Money(10000), sumDue(entries))
	require.Equal(t, pricing.Money(3333), AmountPerPayment(10000, 3))
}

func TestGenerateScheduleAlwaysSumsToTotal(t *testing.T) {
	for _, total := range []pricing.Money{0, 1, 99, 10001, 123457, 6000} {
		for n := 1; n <= 12; n++ {
			entries, err := GenerateSchedule(total, n, Biweekly, date(2025, 3, 10))
			require.NoError(t, err)
			require.Len(t, entries, n)
			require.Equal(t, total, sumDue(entries), "total=%d n=%d", total, n)
			for i, e := range entries {
				require.Equal(t, i+1, e.Seq)
				require.Zero(t, e.AmountPaid)
			}
		}
	}
}

func TestGenerateScheduleIntervals(t *testing.T) {
	start := date(2025, 11, 15)

	weekly, err := GenerateSchedule(6000, 4, Weekly, start)
	require.NoError(t, err)
	require.Equal(t, []time.Time{date(2025, 11, 15), date(2025, 11, 22), date(2025, 11, 29), date(2025, 12, 6)},
		dueDates(weekly))

	biweekly, err := GenerateSchedule(6000, 3, Biweekly, start)
	require.NoError(t, err)
	require.Equal(t, []time.Time{date(2025, 11, 15), date(2025, 11, 29), date(2025, 12, 13)}, dueDates(biweekly))
}

func TestGenerateScheduleMonthlyClampsToMonthEnd(t *testing.T) {
	entries, err := GenerateSchedule(40000, 4, Monthly, date(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, []time.Time{date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 31), date(2024, 4, 30)},
		dueDates(entries))

	entries, err = GenerateSchedule(20000, 2, Monthly, date(2025, 1, 31))
	require.NoError(t, err)
	require.Equal(t, date(2025, 2, 28), entries[1].DueDate)

	entries, err = GenerateSchedule(30000, 3, Monthly, date(2025, 11, 30))
	require.NoError(t, err)
	require.Equal(t, []time.Time{date(2025, 11, 30), date(2025, 12, 30), date(2026, 1, 30)}, dueDates(entries))
}

func TestGenerateScheduleRejectsInvalidTerms(t *testing.T) {
	cases := map[string]func() error{
		"zero payments": func() error {
			_, err := GenerateSchedule(1000, 0, Weekly, date(2025, 1, 1))
			return err
		},
		"negative total": func() error {
			_, err := GenerateSchedule(-1, 2, Weekly, date(2025, 1, 1))
			return err
		},
		"unknown frequency": func() error {
			_, err := GenerateSchedule(1000, 2, Frequency("daily"), date(2025, 1, 1))
			return err
		},
		"missing start": func() error {
			_, err := GenerateSchedule(1000, 2, Weekly, time.Time{})
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			require.True(t, errors.Is(fn(), ErrInvalidSchedule))
		})
	}
}

func dueDates(entries []ScheduleEntry) []time.Time {
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.DueDate
	}
	return out
}
