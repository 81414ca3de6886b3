package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "family-hub",
	Level: hclog.LevelFromString("INFO"),
})
