package anthropic

// BuildCachedSystemBlocks returns the system prompt as two blocks: the stage
// instructions with a 1-hour cache breakpoint, followed by an uncached
// trailer (per-call output rules). An empty trailer is omitted.
func BuildCachedSystemBlocks(instructions, trailer string) []SystemBlock {
	blocks := []SystemBlock{
		{
			Text: instructions,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
	if trailer != "" {
		blocks = append(blocks, SystemBlock{Text: trailer})
	}
	return blocks
}
