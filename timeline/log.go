package timeline

// Logging convention in the `timeline` package:
// Warning:
//     unexpected panics from collaborator callbacks, even when suppressed
//     for partial operation
// V(1):
//     one time (infrequent) lifecycle data useful for monitoring
//     - timeline construction and clear
// V(2):
//     key events for trace debugging, filterable by tag
//     - [tl] ingestion and content changes
//     - [rr] ledger commits kept/rejected and unattributed receipts
//     - [proj] projection anomalies
//     - [sub] subscriber resyncs
//     frequent per-event data points stay at this level so normal operation
//     is silent
