// utils/utils.go

package utils

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// GenerateNodeID returns a fresh identifier for this side of the link.
func GenerateNodeID() string {
	id := uuid.New()
	return id.String()
}

func ParsePlayerNum(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("player number is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid player number %q", raw)
	}
	return n, nil
}
