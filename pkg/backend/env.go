package backend

import (
	"os"
	"os/exec"
	"runtime"
)

// Env is the environment surface availability probes read from.
// Tests substitute a fake; production code uses [OSEnv].
type Env interface {
	Getenv(key string) string
	Exists(path string) bool
	LookPath(file string) (string, error)
	GOOS() string
}

type osEnv struct{}

// OSEnv reads the real process environment and filesystem.
var OSEnv Env = osEnv{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func (osEnv) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (osEnv) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osEnv) GOOS() string { return runtime.GOOS }

// serverlessMarkers maps an environment variable to the platform that sets it.
var serverlessMarkers = []struct {
	key, platform string
}{
	{"AWS_LAMBDA_FUNCTION_NAME", "aws-lambda"},
	{"LAMBDA_TASK_ROOT", "aws-lambda"},
	{"VERCEL", "vercel"},
	{"NETLIFY", "netlify"},
	{"K_SERVICE", "cloud-run"},
	{"FUNCTION_TARGET", "cloud-functions"},
	{"FUNCTIONS_WORKER_RUNTIME", "azure-functions"},
}

// DetectServerless reports whether the process runs on a serverless
// platform, where launching a browser is usually impossible.
func DetectServerless(env Env) (platform string, ok bool) {
	for _, m := range serverlessMarkers {
		if env.Getenv(m.key) != "" {
			return m.platform, true
		}
	}
	return "", false
}

// browserPaths lists well-known Chromium install locations per OS.
var browserPaths = map[string][]string{
	"linux": {
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/snap/bin/chromium",
	},
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

var browserNames = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"}

// FindBrowser locates a Chromium binary. An explicitly configured path wins,
// then CHROME_PATH, then the per-OS install locations, then PATH.
func FindBrowser(env Env, configured string) (string, bool) {
	if configured != "" {
		return configured, env.Exists(configured)
	}
	if p := env.Getenv("CHROME_PATH"); p != "" && env.Exists(p) {
		return p, true
	}
	for _, p := range browserPaths[env.GOOS()] {
		if env.Exists(p) {
			return p, true
		}
	}
	for _, name := range browserNames {
		if p, err := env.LookPath(name); err == nil {
			return p, true
		}
	}
	return "", false
}
