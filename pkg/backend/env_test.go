package backend

import (
	"errors"
	"testing"
)

// fakeEnv is an in-memory Env.
type fakeEnv struct {
	vars  map[string]string
	files map[string]bool
	path  map[string]string
	goos  string
}

func (e fakeEnv) Getenv(key string) string { return e.vars[key] }
func (e fakeEnv) Exists(path string) bool  { return e.files[path] }
func (e fakeEnv) GOOS() string {
	if e.goos == "" {
		return "linux"
	}
	return e.goos
}

func (e fakeEnv) LookPath(file string) (string, error) {
	if p, ok := e.path[file]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}

func TestDetectServerless(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]string
		want     string
		wantFlag bool
	}{
		{"none", nil, "", false},
		{"lambda", map[string]string{"AWS_LAMBDA_FUNCTION_NAME": "fn"}, "aws-lambda", true},
		{"vercel", map[string]string{"VERCEL": "1"}, "vercel", true},
		{"netlify", map[string]string{"NETLIFY": "true"}, "netlify", true},
		{"cloud run", map[string]string{"K_SERVICE": "svc"}, "cloud-run", true},
		{"azure", map[string]string{"FUNCTIONS_WORKER_RUNTIME": "custom"}, "azure-functions", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectServerless(fakeEnv{vars: tt.vars})
			if got != tt.want || ok != tt.wantFlag {
				t.Errorf("DetectServerless() = %q,%v want %q,%v", got, ok, tt.want, tt.wantFlag)
			}
		})
	}
}

func TestFindBrowser(t *testing.T) {
	tests := []struct {
		name       string
		env        fakeEnv
		configured string
		want       string
		wantOK     bool
	}{
		{
			name:       "configured present",
			env:        fakeEnv{files: map[string]bool{"/opt/chrome": true}},
			configured: "/opt/chrome",
			want:       "/opt/chrome", wantOK: true,
		},
		{
			name:       "configured missing does not fall through",
			env:        fakeEnv{files: map[string]bool{"/usr/bin/chromium": true}},
			configured: "/opt/chrome",
			want:       "/opt/chrome", wantOK: false,
		},
		{
			name: "CHROME_PATH",
			env: fakeEnv{
				vars:  map[string]string{"CHROME_PATH": "/x/chrome"},
				files: map[string]bool{"/x/chrome": true, "/usr/bin/chromium": true},
			},
			want: "/x/chrome", wantOK: true,
		},
		{
			name: "known location",
			env:  fakeEnv{files: map[string]bool{"/usr/bin/google-chrome": true}},
			want: "/usr/bin/google-chrome", wantOK: true,
		},
		{
			name: "darwin location",
			env: fakeEnv{
				goos:  "darwin",
				files: map[string]bool{"/Applications/Chromium.app/Contents/MacOS/Chromium": true},
			},
			want: "/Applications/Chromium.app/Contents/MacOS/Chromium", wantOK: true,
		},
		{
			name: "PATH lookup",
			env:  fakeEnv{path: map[string]string{"chrome": "/home/u/bin/chrome"}},
			want: "/home/u/bin/chrome", wantOK: true,
		},
		{
			name: "nothing",
			env:  fakeEnv{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindBrowser(tt.env, tt.configured)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("FindBrowser() = %q,%v want %q,%v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"inprocess", KindInProcess, false},
		{"WASM", KindInProcess, false},
		{"browser", KindBrowser, false},
		{"headless", KindBrowser, false},
		{"external", KindExternal, false},
		{"mmdc", KindExternal, false},
		{"gpu", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %q,%v want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
