package ui

import (
	"fmt"
	"strings"

	"github.com/bnema/waypolicy/internal/ipc"
)

// RenderStatus renders a daemon status snapshot for the terminal.
func RenderStatus(st *ipc.Status) string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Waypolicy"))
	b.WriteString("\n")
	b.WriteString(SubtleStyle.Render(fmt.Sprintf("%d connected clients", st.Clients)))
	b.WriteString("\n\n")

	section(&b, "Sessions", len(st.Sessions), func() {
		for _, s := range st.Sessions {
			b.WriteString("  " + FormatStatus(s.Enabled, s.User) + " " + SubtleStyle.Render(s.Path) + "\n")
		}
	})

	section(&b, "Outputs", len(st.Outputs), func() {
		for _, o := range st.Outputs {
			line := o.Name
			if o.Primary {
				line += " " + InfoStyle.Render(IconPrimary+" primary")
			}
			if o.Virtual != "" {
				line += " " + SubtleStyle.Render(IconArrow+" "+o.Virtual)
			}
			b.WriteString(FormatListItem(line, o.Primary) + "\n")
		}
	})

	section(&b, "Virtual outputs", len(st.Virtuals), func() {
		for _, v := range st.Virtuals {
			b.WriteString(FormatListItem(IconVirtual+" "+v.Name, false))
			b.WriteString(" " + SubtleStyle.Render(strings.Join(v.Members, ", ")) + "\n")
		}
	})

	section(&b, "Shortcuts", len(st.Shortcuts), func() {
		for _, s := range st.Shortcuts {
			mode := "shared"
			if s.Exclusive {
				mode = "exclusive"
			}
			b.WriteString(fmt.Sprintf("  #%-4d %-20s %-9s %s\n", s.Context, s.Key, mode, FormatShortcutState(s.State)))
		}
	})

	section(&b, "Globals", len(st.Globals), func() {
		for _, g := range st.Globals {
			b.WriteString(fmt.Sprintf("  %-4d %s %s\n", g.Name, g.Interface, SubtleStyle.Render(fmt.Sprintf("v%d", g.Version))))
		}
	})

	return strings.TrimRight(b.String(), "\n")
}

func section(b *strings.Builder, title string, n int, body func()) {
	b.WriteString(SubheaderStyle.Render(title) + "\n")
	if n == 0 {
		b.WriteString("  " + SubtleStyle.Render("none") + "\n\n")
		return
	}
	body()
	b.WriteString("\n")
}
