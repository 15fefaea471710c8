package resolver_test

import (
	"testing"

	"github.com/pipgtool/pipg/internal/resolver"
)

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		input      string
		wantName   string
		wantSpec   string
		wantMark   string
		wantExtras []string
	}{
		{"flask", "flask", "", "", nil},
		{"Flask", "flask", "", "", nil},
		{"flask>=3.0", "flask", ">=3.0", "", nil},
		{"flask>=3.0,<4.0", "flask", ">=3.0,<4.0", "", nil},
		{"flask (>=3.0)", "flask", ">=3.0", "", nil},
		{
			`importlib-metadata>=3.6.0; python_version < "3.10"`,
			"importlib-metadata", ">=3.6.0", `python_version < "3.10"`, nil,
		},
		{"my_package", "my-package", "", "", nil},
		{"My.Package>=1.0", "my-package", ">=1.0", "", nil},
		{"package[extra]>=1.0", "package", ">=1.0", "", []string{"extra"}},
		{"black[colorama,d]<=23.9.1", "black", "<=23.9.1", "", []string{"colorama", "d"}},
		{"requests", "requests", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			req, err := resolver.ParseRequirement(tt.input)
			if err != nil {
				t.Fatalf("ParseRequirement() error: %v", err)
			}

			if string(req.Name) != tt.wantName {
				t.Errorf("Name = %q, want %q", req.Name, tt.wantName)
			}

			if req.Specifier.String() != tt.wantSpec {
				t.Errorf("Specifier = %q, want %q", req.Specifier.String(), tt.wantSpec)
			}

			if req.Marker != tt.wantMark {
				t.Errorf("Marker = %q, want %q", req.Marker, tt.wantMark)
			}

			for _, e := range tt.wantExtras {
				if !req.Extras.Contains(e) {
					t.Errorf("expected extras to contain %q, got %v", e, req.Extras.Sorted())
				}
			}
		})
	}
}

func TestParseRequirementInvalidSpecifier(t *testing.T) {
	if _, err := resolver.ParseRequirement("flask>not-a-version"); err == nil {
		t.Errorf("expected an error for a malformed specifier")
	}
}
