package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bellwood-io/rowlock/src/cfg"
	"github.com/bellwood-io/rowlock/src/storage/page"
	"github.com/bellwood-io/rowlock/src/txns"
)

var scenarios = map[string]func(ctx context.Context, log *zap.SugaredLogger) error{
	"conflict":            demoConflict,
	"deadlock":            demoDeadlock,
	"gap-compat":          demoGapCompat,
	"table-covers-record": demoTableCoversRecord,
	"implicit-promotion":  demoImplicitPromotion,
	"btree-split":         demoBtreeSplit,
}

func initDemo() {
	var scenario string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Runs one of the lock manager's end-to-end scenarios against an in-process LockSys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, ok := scenarios[scenario]
			if !ok {
				return fmt.Errorf("unknown scenario %q (known: conflict, deadlock, gap-compat, table-covers-record, implicit-promotion, btree-split)", scenario)
			}
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			return run(cmd.Context(), log.Sugar())
		},
	}
	cmd.Flags().StringVarP(&scenario, "scenario", "s", "conflict", "scenario to run")
	rootCmd.AddCommand(cmd)
}

func newDemoLockSys(log *zap.SugaredLogger) (*txns.LockSys, error) {
	config := cfg.DefaultConfig()
	return txns.Create(config, txns.WithLogger(log))
}

func demoConflict(_ context.Context, log *zap.SugaredLogger) error {
	ls, err := newDemoLockSys(log)
	if err != nil {
		return err
	}
	defer ls.Close()

	page := txns.PageID{SpaceID: 1, PageNo: 1}
	holder := ls.Begin(1)
	waiter := ls.Begin(2)

	log.Infow("holder locks record", "result", ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	res := ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2)
	log.Infow("waiter requests the same record", "result", res, "waiting", waiter.IsWaiting())

	ls.Release(holder)
	log.Infow("holder released", "waiter_still_waiting", waiter.IsWaiting())
	return nil
}

func demoDeadlock(ctx context.Context, log *zap.SugaredLogger) error {
	config := cfg.DefaultConfig()
	config.LockWaitTimeoutSec = cfg.InfiniteWaitThresholdSeconds
	ls, err := txns.Create(config, txns.WithLogger(log))
	if err != nil {
		return err
	}
	defer ls.Close()

	pageA := txns.PageID{SpaceID: 1, PageNo: 1}
	pageB := txns.PageID{SpaceID: 1, PageNo: 2}
	t1 := ls.Begin(1)
	t2 := ls.Begin(2)

	ls.ClustRecModifyCheckAndLock(t1, 1, pageA, 8, 2)
	ls.ClustRecModifyCheckAndLock(t2, 1, pageB, 8, 2)
	ls.ClustRecModifyCheckAndLock(t2, 1, pageA, 8, 2) // t2 waits on t1
	ls.ClustRecModifyCheckAndLock(t1, 1, pageB, 8, 2) // closes the cycle

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	result := ls.HandleWait(dctx, t1)
	log.Infow("deadlock detection result", "result", result)
	if result == txns.Deadlock {
		ls.Release(t1)
	}
	return nil
}

func demoGapCompat(_ context.Context, log *zap.SugaredLogger) error {
	ls, err := newDemoLockSys(log)
	if err != nil {
		return err
	}
	defer ls.Close()

	page := txns.PageID{SpaceID: 1, PageNo: 1}
	a := ls.Begin(1)
	b := ls.Begin(2)

	gap := txns.TypeMode{Mode: txns.LockX, Flags: txns.FlagGap}
	recNotGap := txns.TypeMode{Mode: txns.LockX, Flags: txns.FlagRecNotGap}

	log.Infow("gap lock", "result", ls.LockRecord(a, 1, page, 8, 3, gap))
	log.Infow("rec-not-gap lock on the same heap", "result", ls.LockRecord(b, 1, page, 8, 3, recNotGap), "waiting", b.IsWaiting())
	return nil
}

func demoTableCoversRecord(_ context.Context, log *zap.SugaredLogger) error {
	ls, err := newDemoLockSys(log)
	if err != nil {
		return err
	}
	defer ls.Close()

	trx := ls.Begin(1)
	page := txns.PageID{SpaceID: 2, PageNo: 5}

	log.Infow("table X lock", "result", ls.LockTable(trx, 9, txns.LockX))
	log.Infow("record lock under the table X lock", "result", ls.ClustRecModifyCheckAndLock(trx, 9, page, 8, 2))
	return nil
}

func demoImplicitPromotion(_ context.Context, log *zap.SugaredLogger) error {
	page := txns.PageID{SpaceID: 1, PageNo: 1}
	var ownerID txns.TrxID = 1

	holder := func(table txns.TableID, p txns.PageID, heap txns.HeapNo) (txns.TrxID, bool) {
		if p == page && heap == 2 {
			return ownerID, true
		}
		return 0, false
	}

	config := cfg.DefaultConfig()
	ls, err := txns.Create(config, txns.WithLogger(log), txns.WithImplicitHolder(holder))
	if err != nil {
		return err
	}
	defer ls.Close()

	owner := ls.Begin(ownerID)
	reader := ls.Begin(2)
	_ = owner

	promotedFrom, ok := ls.PromoteImplicitToExplicit(reader, 1, page, 8, 2)
	log.Infow("implicit lock promoted to an explicit record lock", "promoted", ok, "owner", promotedFrom)
	return nil
}

func demoBtreeSplit(_ context.Context, log *zap.SugaredLogger) error {
	ls, err := newDemoLockSys(log)
	if err != nil {
		return err
	}
	defer ls.Close()

	oldPage := txns.PageID{SpaceID: 1, PageNo: 1}
	newPage := txns.PageID{SpaceID: 1, PageNo: 2}
	trx := ls.Begin(1)

	rp := page.NewRecordPage(oldPage)
	rp.InsertBefore(txns.SupremumHeapNo)
	rp.InsertBefore(txns.SupremumHeapNo)
	h3 := rp.InsertBefore(txns.SupremumHeapNo)

	ls.LockRecord(trx, 1, oldPage, rp.HeapCount(), txns.SupremumHeapNo, txns.TypeMode{Mode: txns.LockX})
	ls.LockRecord(trx, 1, oldPage, rp.HeapCount(), h3, txns.TypeMode{Mode: txns.LockX, Flags: txns.FlagRecNotGap})

	moved := rp.SplitAt(2)
	ls.UpdateSplitRight(oldPage, newPage, append(moved, txns.SupremumHeapNo))

	log.Infow("page split migrated the moved record's lock and the supremum gap lock to the new page, inheriting a gap lock back onto the old page's boundary", "moved_heaps", moved)
	return nil
}
