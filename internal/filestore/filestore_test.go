package filestore

import (
	"errors"
	"strings"
	"testing"
)

func TestObjectKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\me\plan v2.xlsx`, "plan_v2.xlsx"},
		{"empty", "", "file"},
		{"dots only", "..", "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ObjectKey("w1", tc.in)
			if !strings.HasPrefix(got, "workspaces/w1/") {
				t.Fatalf("ObjectKey() = %q, want workspaces/w1/ prefix", got)
			}
			if !strings.HasSuffix(got, "/"+tc.want) {
				t.Fatalf("ObjectKey() = %q, want suffix %q", got, tc.want)
			}
			if strings.Contains(got, "..") {
				t.Fatalf("ObjectKey() = %q contains traversal", got)
			}
		})
	}
	if ObjectKey("w1", "a.txt") == ObjectKey("w1", "a.txt") {
		t.Fatal("ObjectKey() must not collide for repeated uploads")
	}
}

func TestNewWithoutEndpoint(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("New() error = %v, want ErrNotConfigured", err)
	}
}
