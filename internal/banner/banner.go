package banner

import (
	"cabinetbench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

const ascii = `
            __   _               __  __                   __  
 _________ _/ /_ (_)___  ___  / /_/ /_  ___  ____  _____/ /_ 
/ ___/ __ '/ __ \/ / __ \/ _ \/ __/ __ \/ _ \/ __ \/ ___/ __ \
/ /__/ /_/ / /_/ / / / / /  __/ /_/ /_/ /  __/ / / / /__/ / / /
\___/\__,_/_.___/_/_/ /_/\___/\__/_.___/\___/_/ /_/\___/_/ /_/ `

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n"
}
