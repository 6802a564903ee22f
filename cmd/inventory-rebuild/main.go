package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/fieldmaxhq/inventory_backend/workflow"
	"github.com/sirupsen/logrus"
)

// inventory-rebuild recomputes every product's quantity/status from the stock
// ledger. Run without flags it only reports drift; -fix writes the derived
// state back.
func main() {
	fix := flag.Bool("fix", false, "write the ledger-derived quantity/status back to drifted products")
	flag.Parse()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()

	ctx := utils.SetUserNameInContext(context.Background(), "inventory-rebuild")
	drifts, err := workflow.RebuildInventory(ctx, *fix)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "inventory-rebuild"}).Error(err.Error())
		os.Exit(1)
	}

	if len(drifts) == 0 {
		log.Println("no drift: every product matches its ledger sum")
		return
	}

	out, _ := json.MarshalIndent(drifts, "", "  ")
	log.Printf("found %d drifted products (fix=%v):\n%s", len(drifts), *fix, out)
	if !*fix {
		os.Exit(2)
	}
}
