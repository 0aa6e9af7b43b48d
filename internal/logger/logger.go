package logger

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// New builds the shared application logger. LOG_LEVEL and LOG_FORMAT are
// read through viper so .env and environment both work.
func New() *logrus.Logger {
	log := logrus.New()

	if viper.GetString("log.format") == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}
