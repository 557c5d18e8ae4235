package query

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"João":            "joao",
		"  Conceição  ":   "conceicao",
		"ÁRVORE":          "arvore",
		"venda serviço":   "venda servico",
		"":                "",
		"plain":           "plain",
		"Ünïcödé Çedilla": "unicode cedilla",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
