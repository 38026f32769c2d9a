package reactor

import "os"

// defaultEnvLookup is the process environment, injected as the default
// lookup for PollerVariantFromEnv so the env read happens at the call
// site rather than hidden behind a package-level init(), per DESIGN NOTES
// §9 "model mutable global state as an initialized-once configuration
// object assembled at process start and injected".
func defaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
