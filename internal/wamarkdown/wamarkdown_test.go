package wamarkdown

import "testing"

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty",
			in:   "   ",
			want: "",
		},
		{
			name: "plain text untouched",
			in:   "just a sentence",
			want: "just a sentence",
		},
		{
			name: "double star bold",
			in:   "this is **important** here",
			want: "this is *important* here",
		},
		{
			name: "double underscore bold",
			in:   "this is __important__ here",
			want: "this is *important* here",
		},
		{
			name: "single star italic",
			in:   "an *emphasis* word",
			want: "an _emphasis_ word",
		},
		{
			name: "bold and italic mixed",
			in:   "**bold** then *italic*",
			want: "*bold* then _italic_",
		},
		{
			name: "strikethrough",
			in:   "that was ~~wrong~~ fine",
			want: "that was ~wrong~ fine",
		},
		{
			name: "heading flattens to bold line",
			in:   "## Release notes\nbody",
			want: "*Release notes*\nbody",
		},
		{
			name: "link keeps label and url",
			in:   "see [the docs](https://example.com/guide) for more",
			want: "see the docs (https://example.com/guide) for more",
		},
		{
			name: "link with empty label",
			in:   "see [](https://example.com) now",
			want: "see https://example.com now",
		},
		{
			name: "image becomes label and url",
			in:   "![diagram](https://example.com/d.png)",
			want: "diagram (https://example.com/d.png)",
		},
		{
			name: "star bullets become dashes",
			in:   "* first\n* second",
			want: "- first\n- second",
		},
		{
			name: "nested bullets keep indent",
			in:   "* top\n  * nested",
			want: "- top\n  - nested",
		},
		{
			name: "blockquote normalized",
			in:   ">quoted\n> also quoted",
			want: "> quoted\n> also quoted",
		},
		{
			name: "inline code kept verbatim",
			in:   "run `rm **all**` now",
			want: "run `rm **all**` now",
		},
		{
			name: "fenced block kept verbatim",
			in:   "before\n```\n**not bold**\n* not a bullet\n```\nafter",
			want: "before\n```\n**not bold**\n* not a bullet\n```\nafter",
		},
		{
			name: "unclosed backtick stays literal",
			in:   "a stray ` backtick",
			want: "a stray ` backtick",
		},
		{
			name: "mixed document",
			in:   "# Title\n\nSome **bold** and a [link](https://x.dev).\n\n* item one\n* item ~~two~~",
			want: "*Title*\n\nSome *bold* and a link (https://x.dev).\n\n- item one\n- item ~two~",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Render(tt.in)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
