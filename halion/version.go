package halion

// Set at build time, e.g.:
// -ldflags "-X github.com/Jhon-Ross/Bot-HalionRP/halion.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
