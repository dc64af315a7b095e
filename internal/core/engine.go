package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"wattconnect/internal/ledger"
	fpmath "wattconnect/internal/math"
	"wattconnect/internal/observability"
	"wattconnect/internal/state"
	"wattconnect/internal/tx"
)

// TradingCore is the single-threaded transaction processor. Every
// handler validates all preconditions first, then commits a coherent
// delta across the ledger and the state stores, or rejects with a
// domain error and no observable change.
type TradingCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	config            *state.ConfigStore
	registry          *state.CertificationRegistry
	listings          *state.ListingBook
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *tx.Envelope
	Batch      *ledger.Batch
	Result     tx.Result
	StateDelta []byte
}

// stagedTx is a fully validated transaction ready to commit: the
// balanced journal batch (possibly empty for state-only transactions),
// the state store mutation, and the extra digest bytes covering
// non-ledger state the transaction touched.
type stagedTx struct {
	batch  *ledger.Batch
	apply  func() error
	digest func() []byte
}

func NewTradingCore(
	owner string,
	startSequence int64,
	lruCapacity int,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *TradingCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	if lruCapacity <= 0 {
		lruCapacity = 1_000_000
	}
	idempotencyChecker := NewIdempotencyChecker(lruCapacity, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &TradingCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		config:            state.NewConfigStore(owner),
		registry:          state.NewCertificationRegistry(),
		listings:          state.NewListingBook(),
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessTx is the main processing pipeline. The returned Result is
// nil for duplicates (already processed, nothing to report); a non-nil
// Result with OK=false is a domain rejection that left state untouched
// and is never written to the transaction log. A non-nil error means
// the input stream itself is broken (gap, regression, corrupt payload)
// and processing cannot continue.
func (c *TradingCore) ProcessTx(t tx.Transaction) (*tx.Result, error) {
	start := time.Now()
	operation := t.TxType().String()
	idempotencyKey := t.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(operation, idempotencyKey)

	// Step 2: Ordering validation — gateway sequence and block height
	if err := c.sequenceValidator.ValidateSequence("global", t.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}
	if !isDuplicate {
		if err := c.sequenceValidator.ValidateBlockHeight(t.BlockHeight()); err != nil {
			if c.metrics != nil {
				c.metrics.BlockHeightRegression.Inc()
			}
			return nil, fmt.Errorf("block height validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreTxRejected.WithLabelValues(operation, "duplicate").Inc()
		}
		return nil, nil
	}

	// Step 3: Dispatch — validate everything, stage the commit
	staged, kind, err := c.dispatch(t)
	if err != nil {
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	if kind != tx.ErrNone {
		// Domain rejection: state untouched, sequence not consumed by
		// the log. Still marked processed so a redelivery does not get
		// a different answer.
		c.idempotency.MarkProcessed(operation, idempotencyKey)
		if c.metrics != nil {
			c.metrics.CoreTxRejected.WithLabelValues(operation, kind.String()).Inc()
		}
		result := tx.Rejected(kind)
		return &result, nil
	}

	// Step 4: Validate and apply the journal batch. Handlers pre-check
	// every balance, so an unbalanced or unapplicable batch here is a
	// bug, not an input problem.
	if len(staged.batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(staged.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(staged.batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
		if c.metrics != nil {
			for _, j := range staged.batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 5: Apply the state store mutation
	if staged.apply != nil {
		if err := staged.apply(); err != nil {
			panic(fmt.Sprintf("FATAL: state apply failed after batch commit: %v", err))
		}
	}

	// Step 6: Compute state digest and hash
	var extra []byte
	if staged.digest != nil {
		extra = staged.digest()
	}
	stateDigest := c.computeStateDigest(staged.batch, extra)

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Step 7: Envelope
	payload, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("FATAL: payload marshal failed: %v", err))
	}

	envelope := &tx.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		TxType:         t.TxType(),
		Caller:         t.Caller(),
		BlockHeight:    t.BlockHeight(),
		Timestamp:      t.Time(),
		SourceSequence: t.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      staged.batch,
		Result:     tx.Accepted,
		StateDelta: stateDigest,
	}

	c.sequence++

	// Step 8: Post-checks
	if err := c.postCheckInvariants(t); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 9: Emit. Persist channel uses BLOCKING send (backpressure);
	// projection channel uses NON-BLOCKING send with silent drop.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped — projection will catch up via rebuild
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 10: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(operation, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreTxApplied.WithLabelValues(operation).Inc()
		c.metrics.CoreTxDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.ListedEnergyTotal.Set(float64(c.listings.TotalListed()))
		c.metrics.ActiveListings.Set(float64(c.listings.Len()))
	}

	result := tx.Accepted
	return &result, nil
}

func (c *TradingCore) dispatch(t tx.Transaction) (*stagedTx, tx.ErrorKind, error) {
	switch e := t.(type) {
	case *tx.ApplyForCertification:
		return c.handleApplyForCertification(e)
	case *tx.CertifyProducer:
		return c.handleCertifyProducer(e)
	case *tx.RejectProducer:
		return c.handleRejectProducer(e)
	case *tx.AddEnergyForSale:
		return c.handleAddEnergyForSale(e)
	case *tx.RemoveEnergyFromSale:
		return c.handleRemoveEnergyFromSale(e)
	case *tx.BuyEnergyFromUser:
		return c.handleBuyEnergyFromUser(e)
	case *tx.RefundEnergy:
		return c.handleRefundEnergy(e)
	case *tx.SetCertificationFee:
		return c.handleSetCertificationFee(e)
	case *tx.SetTradingFeeRate:
		return c.handleSetTradingFeeRate(e)
	case *tx.SetMaxEnergyPerUser:
		return c.handleSetMaxEnergyPerUser(e)
	case *tx.SetEnergyReserveLimit:
		return c.handleSetEnergyReserveLimit(e)
	case *tx.AddCertifier:
		return c.handleAddCertifier(e)
	case *tx.RemoveCertifier:
		return c.handleRemoveCertifier(e)
	case *tx.DepositFunds:
		return c.handleDepositFunds(e)
	case *tx.WithdrawFunds:
		return c.handleWithdrawFunds(e)
	default:
		return nil, tx.ErrNone, fmt.Errorf("unknown transaction type: %T", t)
	}
}

// emptyBatch builds a journal-free batch for state-only transactions
// (certification records, config changes). They carry no ledger moves
// but still occupy a sequence slot and an envelope in the log.
func (c *TradingCore) emptyBatch(eventRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: timestamp,
		Journals:  []ledger.Journal{},
	}
}

// --- Certification handlers ---

func (c *TradingCore) handleApplyForCertification(e *tx.ApplyForCertification) (*stagedTx, tx.ErrorKind, error) {
	if e.EnergyAmount <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}

	if rec, ok := c.registry.Get(e.Origin); ok {
		switch rec.Status {
		case state.StatusCertified:
			return nil, tx.ErrAlreadyCertified, nil
		case state.StatusPending:
			return nil, tx.ErrAlreadyApplied, nil
		}
		// Rejected: a fresh application overwrites the record
	}

	return &stagedTx{
		batch: c.emptyBatch(e.IdempotencyKey(), e.Timestamp.UnixMicro()),
		apply: func() error {
			c.registry.SubmitApplication(e.Origin, e.EnergyAmount, e.Source, e.Height)
			if c.metrics != nil {
				c.metrics.CertificationApplications.Inc()
			}
			return nil
		},
		digest: func() []byte { return c.digestCertification(e.Origin) },
	}, tx.ErrNone, nil
}

func (c *TradingCore) handleCertifyProducer(e *tx.CertifyProducer) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsCertifier(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}

	rec, ok := c.registry.Get(e.Producer)
	if !ok {
		return nil, tx.ErrNoSuchApplication, nil
	}
	switch rec.Status {
	case state.StatusCertified:
		return nil, tx.ErrAlreadyCertified, nil
	case state.StatusRejected:
		// A rejected application is closed; the producer must re-apply.
		return nil, tx.ErrNoSuchApplication, nil
	}

	amount := rec.EnergyAmount
	batch, err := c.journalGen.GenerateEnergyMint(e.Producer, e.IdempotencyKey(), amount, e.Timestamp.UnixMicro())
	if err != nil {
		return nil, tx.ErrNone, err
	}

	return &stagedTx{
		batch: batch,
		apply: func() error {
			if err := c.registry.Transition(e.Producer, state.StatusCertified); err != nil {
				return err
			}
			if c.metrics != nil {
				c.metrics.ProducersCertified.Inc()
				c.metrics.EnergyMinted.Add(float64(amount))
			}
			return nil
		},
		digest: func() []byte { return c.digestCertification(e.Producer) },
	}, tx.ErrNone, nil
}

func (c *TradingCore) handleRejectProducer(e *tx.RejectProducer) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsCertifier(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}

	rec, ok := c.registry.Get(e.Producer)
	if !ok {
		return nil, tx.ErrNoSuchApplication, nil
	}
	switch rec.Status {
	case state.StatusCertified:
		return nil, tx.ErrAlreadyCertified, nil
	case state.StatusRejected:
		return nil, tx.ErrNoSuchApplication, nil
	}

	return &stagedTx{
		batch: c.emptyBatch(e.IdempotencyKey(), e.Timestamp.UnixMicro()),
		apply: func() error {
			if err := c.registry.Transition(e.Producer, state.StatusRejected); err != nil {
				return err
			}
			if c.metrics != nil {
				c.metrics.ProducersRejected.Inc()
			}
			return nil
		},
		digest: func() []byte { return c.digestCertification(e.Producer) },
	}, tx.ErrNone, nil
}

// --- Trade handlers ---

func (c *TradingCore) handleAddEnergyForSale(e *tx.AddEnergyForSale) (*stagedTx, tx.ErrorKind, error) {
	if e.Amount <= 0 || e.PricePerUnit <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	if c.balanceTracker.GetFreeEnergy(e.Origin) < e.Amount {
		return nil, tx.ErrInsufficientBalance, nil
	}
	// Escrow does not change free+listed, but the cap is evaluated
	// against the configuration current at call time — the owner may
	// have lowered it since the energy was credited.
	if c.balanceTracker.GetTotalEnergy(e.Origin) > c.config.MaxEnergyPerUser() {
		return nil, tx.ErrLimitExceeded, nil
	}
	if c.listings.TotalListed()+e.Amount > c.config.ReserveLimit() {
		return nil, tx.ErrReserveExceeded, nil
	}

	batch, err := c.journalGen.GenerateEnergyEscrow(e.Origin, e.IdempotencyKey(), e.Amount, e.Timestamp.UnixMicro())
	if err != nil {
		return nil, tx.ErrNone, err
	}

	return &stagedTx{
		batch: batch,
		apply: func() error {
			c.listings.Add(e.Origin, e.Amount, e.PricePerUnit, e.Height)
			return nil
		},
		digest: func() []byte { return c.digestListing(e.Origin) },
	}, tx.ErrNone, nil
}

func (c *TradingCore) handleRemoveEnergyFromSale(e *tx.RemoveEnergyFromSale) (*stagedTx, tx.ErrorKind, error) {
	if e.Amount <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	listing, ok := c.listings.Get(e.Origin)
	if !ok || listing.Amount < e.Amount {
		return nil, tx.ErrInsufficientBalance, nil
	}

	batch, err := c.journalGen.GenerateEnergyRelease(e.Origin, e.IdempotencyKey(), e.Amount, e.Timestamp.UnixMicro())
	if err != nil {
		return nil, tx.ErrNone, err
	}

	return &stagedTx{
		batch: batch,
		apply: func() error {
			return c.listings.Reduce(e.Origin, e.Amount)
		},
		digest: func() []byte { return c.digestListing(e.Origin) },
	}, tx.ErrNone, nil
}

func (c *TradingCore) handleBuyEnergyFromUser(e *tx.BuyEnergyFromUser) (*stagedTx, tx.ErrorKind, error) {
	if e.Amount <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	// Self-purchase would wash the escrow through the buyer's own accounts
	if e.Origin == e.Seller {
		return nil, tx.ErrNotAuthorized, nil
	}

	listing, ok := c.listings.Get(e.Seller)
	if !ok || listing.Amount < e.Amount {
		return nil, tx.ErrInsufficientBalance, nil
	}

	totalCost, ok := fpmath.ComputeTradeCost(e.Amount, listing.PricePerUnit)
	if !ok {
		return nil, tx.ErrInvalidArgument, nil
	}
	fee, netToSeller := fpmath.SplitTradeProceeds(totalCost, c.config.TradingFeeRatePPM())

	if c.balanceTracker.GetCash(e.Origin) < totalCost {
		return nil, tx.ErrInsufficientBalance, nil
	}

	batch, err := c.journalGen.GeneratePurchase(
		e.Origin, e.Seller, c.config.Owner(),
		e.IdempotencyKey(), e.Amount, netToSeller, fee,
		e.Timestamp.UnixMicro(),
	)
	if err != nil {
		return nil, tx.ErrNone, err
	}

	return &stagedTx{
		batch: batch,
		apply: func() error {
			if err := c.listings.Reduce(e.Seller, e.Amount); err != nil {
				return err
			}
			if c.metrics != nil {
				c.metrics.TradesExecuted.Inc()
				c.metrics.TradeVolumeKWH.Add(float64(e.Amount))
				c.metrics.TradeFeesCollected.Add(float64(fee))
			}
			return nil
		},
		digest: func() []byte { return c.digestListing(e.Seller) },
	}, tx.ErrNone, nil
}

func (c *TradingCore) handleRefundEnergy(e *tx.RefundEnergy) (*stagedTx, tx.ErrorKind, error) {
	if e.Amount <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	if c.balanceTracker.GetFreeEnergy(e.Origin) < e.Amount {
		return nil, tx.ErrInsufficientBalance, nil
	}

	batch, err := c.journalGen.GenerateEnergyBurn(e.Origin, e.IdempotencyKey(), e.Amount, e.Timestamp.UnixMicro())
	if err != nil {
		return nil, tx.ErrNone, err
	}

	return &stagedTx{
		batch: batch,
		apply: func() error {
			if c.metrics != nil {
				c.metrics.EnergyBurned.Add(float64(e.Amount))
			}
			return nil
		},
	}, tx.ErrNone, nil
}

// --- Funds handlers ---

func (c *TradingCore) handleDepositFunds(e *tx.DepositFunds) (*stagedTx, tx.ErrorKind, error) {
	if e.Amount <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}

	batch, err := c.journalGen.GenerateCashDeposit(e.Origin, e.IdempotencyKey(), e.Amount, e.Timestamp.UnixMicro())
	if err != nil {
		return nil, tx.ErrNone, err
	}
	return &stagedTx{batch: batch}, tx.ErrNone, nil
}

func (c *TradingCore) handleWithdrawFunds(e *tx.WithdrawFunds) (*stagedTx, tx.ErrorKind, error) {
	if e.Amount <= 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	if c.balanceTracker.GetCash(e.Origin) < e.Amount {
		return nil, tx.ErrInsufficientBalance, nil
	}

	batch, err := c.journalGen.GenerateCashWithdrawal(e.Origin, e.IdempotencyKey(), e.Amount, e.Timestamp.UnixMicro())
	if err != nil {
		return nil, tx.ErrNone, err
	}
	return &stagedTx{batch: batch}, tx.ErrNone, nil
}

// --- Config handlers ---

func (c *TradingCore) handleSetCertificationFee(e *tx.SetCertificationFee) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsOwner(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}
	if e.Fee < 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	return c.stageConfigChange(e.IdempotencyKey(), e.Timestamp.UnixMicro(), func() error {
		return c.config.SetCertificationFee(e.Fee)
	})
}

func (c *TradingCore) handleSetTradingFeeRate(e *tx.SetTradingFeeRate) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsOwner(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}
	if e.RatePPM < 0 || e.RatePPM > fpmath.RateScale {
		return nil, tx.ErrInvalidArgument, nil
	}
	return c.stageConfigChange(e.IdempotencyKey(), e.Timestamp.UnixMicro(), func() error {
		return c.config.SetTradingFeeRatePPM(e.RatePPM)
	})
}

func (c *TradingCore) handleSetMaxEnergyPerUser(e *tx.SetMaxEnergyPerUser) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsOwner(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}
	if e.Max < 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	return c.stageConfigChange(e.IdempotencyKey(), e.Timestamp.UnixMicro(), func() error {
		return c.config.SetMaxEnergyPerUser(e.Max)
	})
}

func (c *TradingCore) handleSetEnergyReserveLimit(e *tx.SetEnergyReserveLimit) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsOwner(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}
	if e.Limit < 0 {
		return nil, tx.ErrInvalidArgument, nil
	}
	return c.stageConfigChange(e.IdempotencyKey(), e.Timestamp.UnixMicro(), func() error {
		return c.config.SetReserveLimit(e.Limit)
	})
}

func (c *TradingCore) handleAddCertifier(e *tx.AddCertifier) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsOwner(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}
	if e.Certifier == "" {
		return nil, tx.ErrInvalidArgument, nil
	}
	return c.stageConfigChange(e.IdempotencyKey(), e.Timestamp.UnixMicro(), func() error {
		c.config.AddCertifier(e.Certifier)
		return nil
	})
}

func (c *TradingCore) handleRemoveCertifier(e *tx.RemoveCertifier) (*stagedTx, tx.ErrorKind, error) {
	if !c.config.IsOwner(e.Origin) {
		return nil, tx.ErrNotAuthorized, nil
	}
	if e.Certifier == "" {
		return nil, tx.ErrInvalidArgument, nil
	}
	return c.stageConfigChange(e.IdempotencyKey(), e.Timestamp.UnixMicro(), func() error {
		c.config.RemoveCertifier(e.Certifier)
		return nil
	})
}

func (c *TradingCore) stageConfigChange(eventRef string, timestamp int64, apply func() error) (*stagedTx, tx.ErrorKind, error) {
	return &stagedTx{
		batch:  c.emptyBatch(eventRef, timestamp),
		apply:  apply,
		digest: c.digestConfig,
	}, tx.ErrNone, nil
}

// --- State digest ---

// computeStateDigest creates canonical bytes for the state hash:
// every ledger account the batch touched (sorted by path, with its
// post-apply balance) followed by the extra bytes for non-ledger
// state the handler mutated.
func (c *TradingCore) computeStateDigest(batch *ledger.Batch, extra []byte) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(extra))

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	return append(digest, extra...)
}

// digestListing encodes a seller's post-apply listing state plus the
// global escrow total. A deleted listing encodes as zeros.
func (c *TradingCore) digestListing(seller string) []byte {
	buf := make([]byte, 0, len(seller)+32)
	buf = append(buf, byte(len(seller)))
	buf = append(buf, []byte(seller)...)

	var amount, price int64
	if l, ok := c.listings.Get(seller); ok {
		amount, price = l.Amount, l.PricePerUnit
	}
	buf = appendInt64LE(buf, amount)
	buf = appendInt64LE(buf, price)
	buf = appendInt64LE(buf, c.listings.TotalListed())
	return buf
}

// digestCertification encodes a producer's post-apply record.
func (c *TradingCore) digestCertification(producer string) []byte {
	buf := make([]byte, 0, len(producer)+24)
	buf = append(buf, byte(len(producer)))
	buf = append(buf, []byte(producer)...)

	rec, ok := c.registry.Get(producer)
	if !ok {
		return appendInt64LE(buf, -1)
	}
	buf = appendInt64LE(buf, int64(rec.Status))
	buf = appendInt64LE(buf, rec.EnergyAmount)
	buf = appendInt64LE(buf, rec.AppliedAtHeight)
	return buf
}

// digestConfig encodes the full configuration (certifiers sorted).
func (c *TradingCore) digestConfig() []byte {
	snap := c.config.Snapshot()
	sort.Strings(snap.Certifiers)

	buf := make([]byte, 0, 64)
	buf = appendInt64LE(buf, snap.CertificationFee)
	buf = appendInt64LE(buf, snap.TradingFeeRatePPM)
	buf = appendInt64LE(buf, snap.MaxEnergyPerUser)
	buf = appendInt64LE(buf, snap.ReserveLimit)
	buf = appendInt64LE(buf, int64(len(snap.Certifiers)))
	for _, p := range snap.Certifiers {
		buf = append(buf, byte(len(p)))
		buf = append(buf, []byte(p)...)
	}
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after a committed transaction
func (c *TradingCore) postCheckInvariants(t tx.Transaction) error {
	// Non-negativity for every principal the transaction touched
	for _, principal := range affectedPrincipals(t) {
		if err := c.validator.ValidatePrincipalNonNegative(principal); err != nil {
			return fmt.Errorf("post-check non-negative: %w", err)
		}
	}

	// Escrow consistency: a seller's listing must mirror the
	// energy_listed ledger balance exactly.
	switch e := t.(type) {
	case *tx.AddEnergyForSale:
		if err := c.checkEscrowMirror(e.Origin); err != nil {
			return err
		}
		// The reserve ceiling is only guaranteed at add time; the owner
		// may later lower the limit below the standing total.
		if err := c.validator.ValidateReserveCeiling(c.listings.TotalListed(), c.config.ReserveLimit()); err != nil {
			return fmt.Errorf("post-check reserve: %w", err)
		}
	case *tx.RemoveEnergyFromSale:
		if err := c.checkEscrowMirror(e.Origin); err != nil {
			return err
		}
	case *tx.BuyEnergyFromUser:
		if err := c.checkEscrowMirror(e.Seller); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance (at seq %d): %w", c.sequence, err)
		}
	}

	return nil
}

func (c *TradingCore) checkEscrowMirror(seller string) error {
	var listed int64
	if l, ok := c.listings.Get(seller); ok {
		listed = l.Amount
	}
	ledgerListed := c.balanceTracker.GetListedEnergy(seller)
	if listed != ledgerListed {
		return fmt.Errorf("post-check escrow: listing for %s holds %d, ledger escrow %d", seller, listed, ledgerListed)
	}
	return nil
}

// affectedPrincipals returns every user whose balances the transaction
// may have moved.
func affectedPrincipals(t tx.Transaction) []string {
	switch e := t.(type) {
	case *tx.CertifyProducer:
		return []string{e.Producer}
	case *tx.BuyEnergyFromUser:
		return []string{e.Origin, e.Seller}
	case *tx.AddEnergyForSale, *tx.RemoveEnergyFromSale, *tx.RefundEnergy,
		*tx.DepositFunds, *tx.WithdrawFunds:
		return []string{t.Caller()}
	default:
		return nil
	}
}

// --- Accessors for queries and startup ---

// GetSequence returns the current global sequence number.
func (c *TradingCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *TradingCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Balances returns the core's balance tracker. Read-only use outside
// the core goroutine is only safe before processing starts.
func (c *TradingCore) Balances() *ledger.BalanceTracker {
	return c.balanceTracker
}

// Config returns the core's config store.
func (c *TradingCore) Config() *state.ConfigStore {
	return c.config
}

// Registry returns the core's certification registry.
func (c *TradingCore) Registry() *state.CertificationRegistry {
	return c.registry
}

// Listings returns the core's listing book.
func (c *TradingCore) Listings() *state.ListingBook {
	return c.listings
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Config          state.ConfigSnapshot
	Certifications  map[string]state.CertificationRecord
	Listings        map[string]state.Listing
	SequenceState   map[string]int64
	LastBlockHeight int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart: load latest snapshot, then replay the
// transaction log from the next sequence.
func (c *TradingCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	c.balanceTracker.Restore(snap.Balances)
	c.config.Restore(snap.Config)
	c.registry.Restore(snap.Certifications)
	c.listings.Restore(snap.Listings)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.sequenceValidator.SetLastBlockHeight(snap.LastBlockHeight)

	c.journalGen.SetSequence(c.sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed transactions.
func (c *TradingCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// AttachDBChecker wires the tier-2 dedup lookup. During log replay the
// core runs without it: every replayed transaction is present in the
// log by definition, and the DB lookup would mark each one a duplicate
// before it could rebuild in-memory state. Attach after recovery,
// before live traffic.
func (c *TradingCore) AttachDBChecker(dbChecker DBIdempotencyChecker) {
	c.idempotency.SetDBChecker(dbChecker)
}

// AlignSourceSequence forces the expected source sequence for a
// partition. The committed log holds only accepted transactions, so
// rejected submissions leave gaps in the source numbering; replay
// aligns the validator to each logged transaction, re-running ordering
// checks it already passed once.
func (c *TradingCore) AlignSourceSequence(partition string, sourceSeq int64) {
	c.sequenceValidator.SetExpectedSequence(partition, sourceSeq)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *TradingCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Config:          c.config.Snapshot(),
		Certifications:  c.registry.Snapshot(),
		Listings:        c.listings.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		LastBlockHeight: c.sequenceValidator.LastBlockHeight(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
