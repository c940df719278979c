package structs

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// GenerateID returns a random v4 UUID, the same id-generation strategy the
// teacher uses for allocation and evaluation ids.
func GenerateID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// go-uuid only fails if crypto/rand is broken; there is no
		// sane recovery for a scheduler that can't mint ids.
		panic(fmt.Sprintf("structs: failed to generate id: %v", err))
	}
	return id
}
