package banner

import (
	"fmt"

	"ridechat/pkg/config"
)

const banner = `
██████╗ ██╗██████╗ ███████╗ ██████╗██╗  ██╗ █████╗ ████████╗
██╔══██╗██║██╔══██╗██╔════╝██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██████╔╝██║██║  ██║█████╗  ██║     ███████║███████║   ██║
██╔══██╗██║██║  ██║██╔══╝  ██║     ██╔══██║██╔══██║   ██║
██║  ██║██║██████╔╝███████╗╚██████╗██║  ██║██║  ██║   ██║
╚═╝  ╚═╝╚═╝╚═════╝ ╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner with the effective runtime configuration.
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:        %s\n", cfg.Server.Addr())
	fmt.Printf("Backend:       %s\n", cfg.Backend.BaseURL)
	fmt.Printf("Transport:     %s\n", cfg.Channel.Transport)
	if cfg.Channel.Transport == "nats" {
		fmt.Printf("NATS:          %s (stream %s)\n", cfg.Channel.NATS.URL, cfg.Channel.NATS.Stream)
	} else {
		fmt.Printf("WebSocket:     %s\n", cfg.Backend.WSURL)
	}
	if version != "" {
		fmt.Printf("Version:       %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:        %s\n", source)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET    /v1/messages            - Reconciled feed snapshot")
	fmt.Println("POST   /v1/messages            - Send a message (JSON: body, reply_to)")
	fmt.Println("DELETE /v1/messages/{ref}      - Tombstone a message")
	fmt.Println("GET    /v1/unread              - Unread counter")
	fmt.Println("POST   /v1/unread/reset       - Clear the unread counter")
	fmt.Println("GET    /metrics                - Prometheus metrics")
	fmt.Println("GET    /docs/                  - Swagger UI")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/messages' -d '{\"body\": \"hello\"}'\n", cfg.Server.Addr())
	fmt.Printf("curl 'http://localhost%s/v1/messages?limit=20'\n", cfg.Server.Addr())

	fmt.Println("\n== Checks =====================================================")
	if tok, err := cfg.Token(); err == nil && tok != "" {
		fmt.Println("- Backend token: OK")
	} else {
		fmt.Println("- Backend token: MISSING (set RIDECHAT_TOKEN or backend.token_file)")
	}
	if cfg.Archive.Enabled {
		fmt.Printf("- Archive: enabled (%s)\n", cfg.Archive.Path)
	} else {
		fmt.Println("- Archive: disabled")
	}
	if cfg.Retention.Enabled {
		if cfg.Retention.Cron != "" {
			fmt.Printf("- Retention: enabled (cron=%s)\n", cfg.Retention.Cron)
		} else {
			fmt.Printf("- Retention: enabled (period=%s)\n", cfg.Retention.Period.Duration())
		}
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
