package main

import (
	"log/slog"
	"time"
)

func main() {
	start := time.Now()

	dropIndexes()

	createIndexes()

	getIndexes()

	for _, service := range sensingDBServices {
		service.Disconnect()
	}
	slog.Info("Sensing DB migration completed", slog.String("duration", time.Since(start).String()))
}

func dropIndexes() {
	for studyKey, service := range sensingDBServices {
		switch conf.TaskConfigs.DropIndexes {
		case DropIndexesModeAll:
			slog.Info("Dropping all indexes", slog.String("studyKey", studyKey))
			service.DropIndexes(true)
		case DropIndexesModeDefaults:
			slog.Info("Dropping default indexes", slog.String("studyKey", studyKey))
			service.DropIndexes(false)
		}
	}
}

func createIndexes() {
	if !conf.TaskConfigs.CreateIndexes {
		return
	}
	for studyKey, service := range sensingDBServices {
		slog.Info("Creating default indexes", slog.String("studyKey", studyKey))
		service.CreateDefaultIndexes()
	}
}

func getIndexes() {
	if !conf.TaskConfigs.GetIndexes {
		return
	}
	for studyKey, service := range sensingDBServices {
		indexes, err := service.GetIndexes()
		if err != nil {
			slog.Error("Error getting indexes", slog.String("studyKey", studyKey), slog.String("error", err.Error()))
			continue
		}
		for collection, names := range indexes {
			slog.Info("Collection indexes", slog.String("studyKey", studyKey), slog.String("collection", collection), slog.Any("indexes", names))
		}
	}
}
