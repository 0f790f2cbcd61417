package validate

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	slugPattern := regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

	tests := []struct {
		name        string
		input       string
		constraints StringConstraints
		wantErr     error
		want        string
	}{
		{
			name:        "within length bounds",
			input:       "Reasoning Suite",
			constraints: StringConstraints{MinLength: 5, MaxLength: 20, TrimSpace: true},
			want:        "Reasoning Suite",
		},
		{
			name:        "too short",
			input:       "Hi",
			constraints: StringConstraints{MinLength: 5, MaxLength: 20},
			wantErr:     ErrStringTooShort,
		},
		{
			name:        "too long",
			input:       strings.Repeat("a", 101),
			constraints: StringConstraints{MinLength: 1, MaxLength: 100},
			wantErr:     ErrStringTooLong,
		},
		{
			name:        "length counts runes not bytes",
			input:       strings.Repeat("é", 10),
			constraints: StringConstraints{MaxLength: 10},
			want:        strings.Repeat("é", 10),
		},
		{
			name:    "empty rejected by default",
			input:   "",
			wantErr: ErrEmpty,
		},
		{
			name:        "empty allowed when opted in",
			input:       "",
			constraints: StringConstraints{AllowEmpty: true},
			want:        "",
		},
		{
			name:        "surrounding whitespace trimmed",
			input:       "  Elo Baseline  ",
			constraints: StringConstraints{TrimSpace: true},
			want:        "Elo Baseline",
		},
		{
			name:        "pattern accepted",
			input:       "model-elo_v2",
			constraints: StringConstraints{AllowedPattern: slugPattern},
			want:        "model-elo_v2",
		},
		{
			name:        "pattern rejected",
			input:       "bad name!",
			constraints: StringConstraints{AllowedPattern: slugPattern},
			wantErr:     ErrInvalidCharacters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input, tt.constraints)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("String() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("String() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestString_DisallowedWords(t *testing.T) {
	constraints := StringConstraints{DisallowedWords: []string{"spam", "scam"}}

	if _, err := String("totally SPAM title", constraints); err == nil {
		t.Error("expected error for disallowed word, got nil")
	}
	if _, err := String("legitimate title", constraints); err != nil {
		t.Errorf("unexpected error for clean string: %v", err)
	}
}

// Keyword screening has to distinguish SQL as a standalone word from SQL
// keywords buried inside ordinary names.
func TestString_SQLScreening(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Executive contains EXEC", "The Executive", false},
		{"Selective contains SELECT", "Selective Tasks", false},
		{"Updated contains UPDATE", "Updated Benchmarks", false},
		{"plain sentence", "This is a normal sentence", false},
		{"standalone SELECT", "SELECT something", true},
		{"lowercase injection", "select * from users", true},
		{"standalone DELETE", "DELETE this", true},
		{"standalone DROP", "DROP it", true},
		{"comment sequence", "test -- comment", true},
		{"stored procedure prefix", "xp_cmdshell test", true},
	}

	constraints := StringConstraints{MinLength: 1, MaxLength: 100, CheckSQLKeywords: true, TrimSpace: true}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := String(tt.input, constraints)
			if gotErr := err != nil; gotErr != tt.wantErr {
				t.Errorf("String(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrSQLKeyword) {
				t.Errorf("String(%q) error = %v, want ErrSQLKeyword", tt.input, err)
			}
		})
	}
}

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text unchanged", "Hello World", "Hello World"},
		{"script tag escaped", "<script>alert('xss')</script>", "&lt;script&gt;alert(&#39;xss&#39;)&lt;/script&gt;"},
		{"event handler escaped", `<div onclick="evil()">Click me</div>`, "&lt;div onclick=&#34;evil()&#34;&gt;Click me&lt;/div&gt;"},
		{"ampersand escaped", "Q&A prompts", "Q&amp;A prompts"},
		{"quotes escaped", `He said "hello"`, "He said &#34;hello&#34;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeHTML(tt.input); got != tt.want {
				t.Errorf("SanitizeHTML() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPromptSetName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"typical set name", "Code Reasoning Suite", false},
		{"versioned set name", "Benchmark-Set_v2.0", false},
		{"single character", "X", false},
		{"empty", "", true},
		{"over 100 characters", strings.Repeat("a", 101), true},
		{"special characters", "Set@Name#123", true},
		{"standalone SQL keyword", "DROP TABLE benchmarks", true},
		{"SQL keyword as substring", "Selective Reasoning", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PromptSetName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PromptSetName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got == "" {
				t.Error("PromptSetName() returned empty string for valid input")
			}
		})
	}
}
