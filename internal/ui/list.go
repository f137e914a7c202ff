package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

var _ list.Item = unitItem{}

// unitItem wraps a planned [models.UploadUnit] and its ledger entry to implement [list.Item].
type unitItem struct {
	unit  models.UploadUnit
	entry *models.LedgerEntry
}

func (i unitItem) FilterValue() string { return i.unit.Name }
func (i unitItem) Title() string       { return i.unit.Name }
func (i unitItem) Description() string {
	parts := []string{shared.HumanBytes(i.unit.Size)}
	if i.entry != nil {
		status := string(i.entry.Status)
		if i.entry.Resumable() {
			status = fmt.Sprintf("%s at %s", status, shared.HumanBytes(i.entry.Committed))
		}
		parts = append(parts, styles.Status(i.entry.Status).Render(status))
	} else {
		parts = append(parts, styles.Status(models.LedgerPending).Render("new"))
	}
	if i.unit.Collection != "" {
		parts = append(parts, "→ "+i.unit.Collection)
	}
	return strings.Join(parts, " • ")
}
