package banner

import (
	"fmt"

	"pollchat/pkg/config"
)

const banner = `
██████╗  ██████╗ ██╗     ██╗      ██████╗██╗  ██╗ █████╗ ████████╗
██╔══██╗██╔═══██╗██║     ██║     ██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██████╔╝██║   ██║██║     ██║     ██║     ███████║███████║   ██║
██╔═══╝ ██║   ██║██║     ██║     ██║     ██╔══██║██╔══██║   ██║
██║     ╚██████╔╝███████╗███████╗╚██████╗██║  ██║██║  ██║   ██║
╚═╝      ╚═════╝ ╚══════╝╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner using the effective config.
func Print(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config source: %s\n", src)
	if eff.Config != nil {
		fmt.Printf("Guests:   %v\n", eff.Config.Chat.AllowGuests)
		fmt.Printf("Capacity: %d messages\n", eff.Config.Chat.MaxMessages)
		fmt.Printf("Cleanup:  enabled=%v cron=%q\n", eff.Config.Cleanup.Enabled, eff.Config.Cleanup.Cron)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET    /v1/messages?after_id=&before_id=&limit= - List messages")
	fmt.Println("POST   /v1/send - Post a message (JSON: message, display_name)")
	fmt.Println("GET    /v1/user-status - Caller status and chat settings")
	fmt.Println("POST   /v1/admin/moderate - Soft-delete a message (admin key)")
	fmt.Println("GET    /v1/admin/bans | POST /v1/admin/bans | DELETE /v1/admin/bans/{id}")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://localhost%s/v1/messages?limit=20'\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/send' -d '{\"message\":\"hello\",\"display_name\":\"guest\"}'\n", addr)
}
