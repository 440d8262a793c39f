package tenant

// PrefixKey namespaces a cache or lock key per store.
func PrefixKey(storeID, key string) string {
	if storeID == "" {
		return key
	}
	return storeID + ":" + key
}
