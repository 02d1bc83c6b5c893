package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Freeze #42 - Batch A", "freeze #42 - batch a"},
		{"strips diacritics", "Envío (Despacho) #42 - Ñandú", "envio (despacho) #42 - nandu"},
		{"collapses whitespace", "  freeze   #42\t- Batch  A ", "freeze #42 - batch a"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKeyCollision(t *testing.T) {
	a := NewKey("Envío #42", OpShip)
	b := NewKey("envio  #42", OpShip)
	assert.Equal(t, a, b)

	c := NewKey("envio #42", OpFreeze)
	assert.NotEqual(t, a, c)
}
