package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/prepdash/imagecache"
)

// envPrefix namespaces environment variables that override flag defaults.
const envPrefix = "IMAGECACHE_"

var (
	// Global flags.
	maxSizeMiB    int64
	maxAge        time.Duration
	sweepInterval time.Duration
	coalesce      bool
	s3Region      string
	s3Endpoint    string
	useGCS        bool
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "imagecache",
	Short: "Size- and age-bounded cache for remote images",
	Long: `Imagecache resolves remote image URLs to locally held copies,
bounded by total size and entry age.

Settings may also be given as environment variables, or in a .env file in
the working directory, by upper-casing the flag name and prefixing it with
IMAGECACHE_ (for example IMAGECACHE_MAX_SIZE=50).

Examples:
  # Resolve an image twice and show the hit
  imagecache resolve --repeat 2 https://media.s3.amazonaws.com/q/17.png

  # List the S3 images referenced by a question document
  imagecache extract --json-input question.json

  # Serve cached images and the inspector on :8080
  imagecache serve --addr :8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int64Var(&maxSizeMiB, "max-size", imagecache.DefaultMaxSize>>20, "cache capacity in MiB")
	flags.DurationVar(&maxAge, "max-age", imagecache.DefaultMaxAge, "how long an image may be served from the cache")
	flags.DurationVar(&sweepInterval, "sweep-interval", imagecache.DefaultSweepInterval, "how often expired images are swept (0 disables)")
	flags.BoolVar(&coalesce, "coalesce", false, "share one fetch between concurrent requests for an image")
	flags.StringVar(&s3Region, "s3-region", "", "fetch S3 images through the AWS SDK in this region")
	flags.StringVar(&s3Endpoint, "s3-endpoint", "", "custom S3 endpoint, e.g. a local MinIO")
	flags.BoolVar(&useGCS, "gcs", false, "fetch Cloud Storage images through the GCS client")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadEnv reads .env, if present, and applies IMAGECACHE_* variables to
// every flag not set on the command line.
func loadEnv(cmd *cobra.Command) error {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	var errs []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if err := f.Value.Set(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", envName(f.Name), err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// envName maps a flag name to its environment variable.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
