package browser

import (
	"context"
	"fmt"
	"os"
)

// FileListing serves a saved copy of the listing page. Relative report links
// resolve against BaseURL.
type FileListing struct {
	Path    string
	BaseURL string
}

func (f FileListing) Listing(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read listing file: %w", err)
	}
	return string(data), f.BaseURL, nil
}
