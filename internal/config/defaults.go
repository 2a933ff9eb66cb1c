package config

const (
	defaultDataDirFallback     = "~/.local/share/meshpatch"
	defaultLogDir              = "~/.local/share/meshpatch/logs"
	defaultManifestCachePath   = "~/.cache/meshpatch/manifests.json"
	defaultConfidenceThreshold = 0.8
	defaultFuzzyThreshold      = 0.6
	defaultTransformPrecision  = 4
	defaultApplyPolicy         = PolicyRebind
	defaultLockTimeoutSeconds  = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Identity policy names accepted by apply.default_policy.
const (
	PolicyPreserve = "preserve"
	PolicyRebind   = "rebind"
)

var defaultExtensions = []string{".fbx"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir(),
			LogDir:  defaultLogDir,
		},
		Matching: Matching{
			ConfidenceThreshold: defaultConfidenceThreshold,
			FuzzyThreshold:      defaultFuzzyThreshold,
			TransformPrecision:  defaultTransformPrecision,
		},
		Apply: Apply{
			DefaultPolicy:      defaultApplyPolicy,
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
		},
		Locator: Locator{
			Extensions:        append([]string(nil), defaultExtensions...),
			ManifestCachePath: defaultManifestCachePath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
