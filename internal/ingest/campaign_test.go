package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignFromFilename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"Storm-1516_report.pdf", "Storm-1516"},
		{"/data/reports/storm_1679_analysis.pdf", "Storm-1679"},
		{"storm1099-overview.pdf", "Storm1099"},
		{"EU_DisinfoLab_Doppelganger.pdf", "Doppelganger"},
		{"the-secondaryOps-files.pdf", "Secondaryops"},
		{"annual_threat_REPORT.pdf", "Report"},
		{"x.pdf", "X"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, CampaignFromFilename(tt.path))
		})
	}
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "Storm-1516_report", DocumentID("/a/b/Storm-1516_report.pdf"))
	assert.Equal(t, "notes", DocumentID("notes"))
	assert.Equal(t, "archive.tar", DocumentID("archive.tar.gz"))
}
