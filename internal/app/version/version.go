package version

// Default values are overridden at build time via -ldflags, e.g.
// -X subgate/internal/app/version.buildVersion=1.4.0
var (
	buildVersion  = "dev"
	builtAt       = "unknown"
	applicationID = "com.v2ray.ang"
	distribution  = ""
)

// Info represents the running build metadata.
type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
}

// ApplicationID is the package identifier baked in at build time.
func ApplicationID() string {
	return applicationID
}

// Distribution is the raw distribution channel baked in at build time.
func Distribution() string {
	return distribution
}
