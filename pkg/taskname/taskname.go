package taskname

const (
	// Claim tasks
	ClaimProcessed = "claim:processed"
)
