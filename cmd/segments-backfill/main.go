// Command segments-backfill reclassifies shops from a workstation or a CI job,
// using the same environment as the Lambdas (APP_ENV=local reads .env).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/schollz/progressbar/v3"

	"shopmetrics/internal/bootstrap"
	"shopmetrics/internal/snapshot"
)

func main() {
	shopsFlag := flag.String("shops", "", "comma separated shop domains (default: every connected shop)")
	pull := flag.Bool("pull", true, "sync each shop from Shopify before reclassifying")
	alerts := flag.Bool("alerts", false, "send at-risk alerts like the scheduled job")
	repair := flag.Bool("repair", false, "run MSCK REPAIR TABLE on the snapshot table afterwards")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := bootstrap.Init(ctx, "segments-backfill")
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	job := app.Refresh()
	if !*alerts {
		job.Alerts = nil
	}
	if !*pull {
		job.Puller = nil
	}

	shops := splitShops(*shopsFlag)
	if len(shops) == 0 {
		shops, err = app.Directory.AllShops(ctx)
		if err != nil {
			log.Fatalf("list shops: %v", err)
		}
	}
	if len(shops) == 0 {
		fmt.Println("no shops to backfill")
		return
	}

	bar := progressbar.Default(int64(len(shops)), "reclassifying")
	job.OnShop = func(shop string, err error) {
		_ = bar.Add(1)
	}

	start := time.Now()
	sum := job.Run(ctx, shops)
	_ = bar.Finish()

	fmt.Printf("shops=%d failed=%d exported=%d alerts=%d in %s\n",
		sum.Shops, len(sum.Failed), sum.Exported, sum.Alerts, time.Since(start).Round(time.Millisecond))
	for _, s := range sum.Failed {
		fmt.Println("  failed:", s)
	}

	if *repair {
		qid, err := snapshot.RepairPartitions(ctx, athena.NewFromConfig(app.AWS), app.Cfg.SnapshotTable, app.History().Options)
		if err != nil {
			log.Fatalf("repair partitions: %v", err)
		}
		fmt.Println("partitions repaired, query", qid)
	}

	if len(sum.Failed) > 0 {
		os.Exit(1)
	}
}

func splitShops(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
