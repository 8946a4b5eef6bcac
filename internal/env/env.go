package env

import (
	"os"

	"github.com/joho/godotenv"
)

// Load reads KEY=VALUE files into the process environment. Variables that are
// already set win over file values, and earlier files win over later ones.
// Missing files are skipped.
func Load(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}
