package jobs

import (
	"bytes"
	"context"
)

func SetDownloadURL(j *GeoLiteUpdaterJob, url string) { j.downloadURL = url }

func ExtractMMDB(path string, data []byte) error {
	return extractMMDB(bytes.NewReader(data), path)
}

func ExecuteJobSafely(s *Scheduler, name string, job func(ctx context.Context) error) bool {
	return s.executeJobSafely(name, job)
}
