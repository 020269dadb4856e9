package anthropic

// BuildCachedSystemBlocks returns a single system block with an ephemeral
// cache breakpoint. Repeated calls with the same prompt within the TTL
// read the prefix from cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
