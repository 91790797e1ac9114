package batch

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/sells-group/carrier-cli/internal/model"
)

// dotOffset is added to the MC number to derive a simulated DOT number.
const dotOffset = 1_000_000

// SimulatedCarrier returns the synthetic record produced for mc.
func SimulatedCarrier(mc string, broker bool) model.Carrier {
	dot := model.UnknownDOT
	if n, err := strconv.Atoi(mc); err == nil {
		dot = strconv.Itoa(n + dotOffset)
	}
	entity := "CARRIER"
	if broker {
		entity = "BROKER"
	}
	return model.Carrier{
		MCNumber:                mc,
		DOTNumber:               dot,
		LegalName:               "Carrier " + mc + " Logistics",
		EntityType:              entity,
		Status:                  "AUTHORIZED",
		Email:                   "info@carrier.com",
		Phone:                   "800-555-0199",
		PowerUnits:              "12",
		Drivers:                 "14",
		PhysicalAddress:         "100 Logistics Way, Houston, TX 77002",
		ScrapedAt:               time.Now().UTC(),
		MCS150Date:              "2024-01-01",
		MCS150Mileage:           "120,000 (2023)",
		OperationClassification: []string{},
		CarrierOperation:        []string{},
		CargoCarried:            []string{},
	}
}

func defaultCoin() bool { return rand.IntN(2) == 1 }

// simulate waits the configured delay and generates a record. Brokers are
// produced only when brokers are included, and always when carriers are not.
func (o *Orchestrator) simulate(ctx context.Context, cfg Config, mc string) (*model.Carrier, error) {
	if d := o.opts.SimulatedDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	broker := cfg.IncludeBrokers && (!cfg.IncludeCarriers || o.opts.Coin())
	c := SimulatedCarrier(mc, broker)
	return &c, nil
}
