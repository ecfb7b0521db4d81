package output

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rendercrawl/rendercrawl/pkg/models"
)

// SaveCSV writes the observed requests of a crawl report to a CSV file.
func SaveCSV(report *models.CrawlReport, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"method", "url", "status", "content_type", "debugging_id"}); err != nil {
		return err
	}

	for _, req := range report.Requests {
		status := ""
		if req.StatusCode != 0 {
			status = strconv.Itoa(req.StatusCode)
		}
		row := []string{req.Method, req.URL, status, req.ContentType, req.DebuggingID}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}
