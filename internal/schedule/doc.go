// Package schedule compiles a load Plan into deterministic per-worker
// dispatch timelines.
//
// A Plan is an ordered list of stages, each with its own rate shape:
//   - constant: fixed inter-arrival spacing of 1/rate
//   - poisson: i.i.d. Exponential(rate) inter-arrival times
//   - burst: (count, time) points fired at the same instant
//   - trace: literal replay of recorded dispatch offsets
//
// Stages concatenate on one global timeline with no gap or double scheduling
// at boundaries. The compiled timeline is partitioned round-robin across the
// configured worker count, so the union of per-worker timelines preserves the
// global spacing and no two workers ever own the same slot.
//
// Compilation is deterministic for a fixed seed: the same Plan always yields
// the same slots, IDs, and partitioning.
package schedule
