// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate implements the pre-chat access gates.
//
// Gates run in a fixed order before the first message may reach the
// backend: an optional welcome question, an optional server-issued
// captcha challenge, and optional access agreements. Each gate is
// skipped when disabled, and agreements already accepted for the
// current hostname are skipped on later runs.
//
// A message typed while the gates are still closed is captured as the
// pending message and dispatched exactly once when the last gate
// opens. The backend can also demand captcha re-verification
// mid-conversation; the controller then regresses to the captcha gate
// while keeping the rejected message pending.
package gate
