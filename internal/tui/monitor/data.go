package monitor

import (
	"fmt"
	"time"

	"github.com/marcus/vistoria/internal/db"
)

// FetchData retrieves the queue contents the monitor displays
func FetchData(database *db.DB) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}

	queue, err := database.AllSyncItems()
	if err != nil {
		msg.Err = fmt.Errorf("load sync queue: %w", err)
		return msg
	}
	files, err := database.AllFiles()
	if err != nil {
		msg.Err = fmt.Errorf("load file queue: %w", err)
		return msg
	}

	msg.Queue = queue
	msg.Files = files
	return msg
}

func retryNotice(n int) string {
	switch n {
	case 0:
		return "nothing to retry"
	case 1:
		return "1 job reset to pending"
	default:
		return fmt.Sprintf("%d jobs reset to pending", n)
	}
}
