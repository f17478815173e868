package banner

import (
	"fmt"
	"math/rand"
	"time"
)

// Banners are rotated on startup for variety.
var banners = []string{
	`
     ██████╗ ██████╗  █████╗ ██████╗ ███╗   ██╗███████╗██╗
    ██╔════╝ ██╔══██╗██╔══██╗██╔══██╗████╗  ██║██╔════╝██║
    ██║  ███╗██████╔╝███████║██████╔╝██╔██╗ ██║█████╗  ██║
    ██║   ██║██╔══██╗██╔══██║██╔═══╝ ██║╚██╗██║██╔══╝  ██║
    ╚██████╔╝██║  ██║██║  ██║██║     ██║ ╚████║███████╗███████╗
     ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝     ╚═╝  ╚═══╝╚══════╝╚══════╝

    AUTHORIZED USE ONLY - SECURITY RESEARCH ONLY
`,
	`
    ┌─────────────────────────────────────────┐
    │                                         │
    │        GRAPNEL  POST-EXPLOITATION       │
    │                                         │
    │      degraded shells, upgraded          │
    │                                         │
    │   AUTHORIZED USE ONLY                   │
    └─────────────────────────────────────────┘
`,
	`
    ╔═════════════════════════════════════════╗
    ║                                         ║
    ║    grapnel ~ hook into any shell        ║
    ║                                         ║
    ║    AUTHORIZED USE ONLY                  ║
    ╚═════════════════════════════════════════╝
`,
}

// Print writes a random startup banner.
func Print() {
	fmt.Println(pick())
}

func pick() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return banners[r.Intn(len(banners))]
}
