package main

import (
	"context"
	"log"
	"os"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/fieldmaxhq/inventory_backend/workflow"
	"github.com/sirupsen/logrus"
)

// mark-sold-products flips single items at quantity zero that are still
// flagged available over to sold. Intended as a periodic cleanup job.
func main() {
	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()

	ctx := utils.SetUserNameInContext(context.Background(), "mark-sold-products")
	count, err := workflow.MarkSoldProducts(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "mark-sold-products"}).Error(err.Error())
		os.Exit(1)
	}
	log.Printf("marked %d products as sold", count)
}
