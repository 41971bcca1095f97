package main

import "time"

type Config struct {
	APIBaseURL            string        `env:"API_BASE_URL,default=http://localhost:8000/api"`
	SocketURL             string        `env:"SOCKET_URL,default=ws://localhost:8000/socket"`
	Room                  string        `env:"ROOM,default=solitude"`
	UserID                string        `env:"USER_ID"`
	TargetLang            string        `env:"TARGET_LANG,default=en"`
	EditWindow            time.Duration `env:"EDIT_WINDOW,default=20m"`
	AnonymizationRequired bool          `env:"ANONYMIZATION_REQUIRED,default=true"`
	BadgerFilepath        string        `env:"BADGER_FILEPATH"`
	HistoryLimit          *int          `env:"HISTORY_LIMIT"`
	LogLevel              string        `env:"LOG_LEVEL,default=info"`
}
