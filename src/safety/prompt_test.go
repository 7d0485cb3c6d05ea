package safety

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		input string
		want  bool
	}{
		{name: "yes flag skips prompt", opts: Options{Yes: true}, want: true},
		{name: "dry run declines", opts: Options{DryRun: true}, want: false},
		{name: "dry run wins over yes", opts: Options{Yes: true, DryRun: true}, want: false},
		{name: "answer y", input: "y\n", want: true},
		{name: "answer yes", input: "YES\n", want: true},
		{name: "answer n", input: "n\n", want: false},
		{name: "empty answer defaults to no", input: "\n", want: false},
		{name: "eof defaults to no", input: "", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := Confirm(tc.opts, strings.NewReader(tc.input), &out, "Delete backup?")
			if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			prompted := out.Len() > 0
			wantPrompt := !tc.opts.Yes && !tc.opts.DryRun
			if prompted != wantPrompt {
				t.Fatalf("prompted=%v, want %v (output %q)", prompted, wantPrompt, out.String())
			}
		})
	}
}
