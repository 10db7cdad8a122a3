package namegen

import (
	"fmt"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

type ID string

func Get() ID {
	return ID(gen.Get())
}

// Prefixed returns a fresh ID prepended with a project prefix,
// suitable for cloud resource Name tags.
func Prefixed(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, Get())
}

func (id ID) String() string {
	return string(id)
}
