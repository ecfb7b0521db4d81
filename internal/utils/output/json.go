package output

import (
	"encoding/json"
	"os"

	"github.com/rendercrawl/rendercrawl/pkg/models"
)

// SaveJSON writes an indented JSON export of the crawl report to filepath.
// DOM snapshots are excluded; they go to their own files via SaveMarkdown.
func SaveJSON(report *models.CrawlReport, filepath string) error {
	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, content, 0644)
}
