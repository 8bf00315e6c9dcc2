package banner

import (
	"github.com/charmbracelet/lipgloss"

	"xferbench/internal/tui/styles"
)

const ascii = `
        __             _                     _
__  __ / _| ___  _ __ | |__   ___  _ __   ___| |__
\ \/ /| |_ / _ \| '__|| '_ \ / _ \| '_ \ / __| '_ \
 >  < |  _|  __/| |   | |_) |  __/| | | | (__| | | |
/_/\_\|_|  \___||_|   |_.__/ \___||_| |_|\___|_| |_|`

// GetString renders the banner for help output.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	return "\n" + style.Render(ascii) + "\n" + styles.Subtle.Render("  transfer-workload benchmark harness") + "\n"
}
