package domain

import (
	interfaces "pulse/internal/domain/interfaces"
	types "pulse/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID                       = types.UserID
	Fingerprint                  = types.Fingerprint
	PreKeyID                     = types.PreKeyID
	SessionID                    = types.SessionID
	ConversationID               = types.ConversationID
	MessageID                    = types.MessageID
	KeyID                        = types.KeyID
	Identity                     = types.Identity
	X25519Public                 = types.X25519Public
	X25519Private                = types.X25519Private
	Ed25519Public                = types.Ed25519Public
	Ed25519Private               = types.Ed25519Private
	PreKey                       = types.PreKey
	SignedPreKey                 = types.SignedPreKey
	SignedPreKeyPublic           = types.SignedPreKeyPublic
	OneTimePreKeyPublic          = types.OneTimePreKeyPublic
	PreKeyBundle                 = types.PreKeyBundle
	PreKeyMessage                = types.PreKeyMessage
	ChainKey                     = types.ChainKey
	SessionState                 = types.SessionState
	ConversationType             = types.ConversationType
	Conversation                 = types.Conversation
	ConversationKey              = types.ConversationKey
	Algorithm                    = types.Algorithm
	EncryptionMetadata           = types.EncryptionMetadata
	MessageStatus                = types.MessageStatus
	Message                      = types.Message
	Receipt                      = types.Receipt
	PayloadKind                  = types.PayloadKind
	Payload                      = types.Payload
	EnvelopeKind                 = types.EnvelopeKind
	Envelope                     = types.Envelope
	ProtectionLevel              = types.ProtectionLevel
	ConversationEncryptionStatus = types.ConversationEncryptionStatus
	Verification                 = types.Verification

	Text        = types.Text
	Image       = types.Image
	Video       = types.Video
	Audio       = types.Audio
	Location    = types.Location
	CallKind    = types.CallKind
	Call        = types.Call
	System      = types.System
	Unavailable = types.Unavailable
	KeyShare    = types.KeyShare
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService      = interfaces.IdentityService
	PreKeyService        = interfaces.PreKeyService
	SessionService       = interfaces.SessionService
	ConversationKeyring  = interfaces.ConversationKeyring
	Transport            = interfaces.Transport
	Directory            = interfaces.Directory
	IdentityStore        = interfaces.IdentityStore
	PreKeyStore          = interfaces.PreKeyStore
	SessionStore         = interfaces.SessionStore
	ConversationKeyStore = interfaces.ConversationKeyStore
	ConversationStore    = interfaces.ConversationStore
	MessageStore         = interfaces.MessageStore
	VerificationStore    = interfaces.VerificationStore
)

// Frequently used constants, re-exported alongside their types.
const (
	ConversationPulseGroup = types.ConversationPulseGroup
	ConversationDirect     = types.ConversationDirect
	ConversationGroupChat  = types.ConversationGroupChat

	StatusSending   = types.StatusSending
	StatusSent      = types.StatusSent
	StatusDelivered = types.StatusDelivered
	StatusRead      = types.StatusRead
	StatusFailed    = types.StatusFailed

	EnvelopeMessage = types.EnvelopeMessage
	EnvelopeReceipt = types.EnvelopeReceipt
	EnvelopeTyping  = types.EnvelopeTyping

	AlgorithmChaCha20Poly1305  = types.AlgorithmChaCha20Poly1305
	AlgorithmXChaCha20Poly1305 = types.AlgorithmXChaCha20Poly1305

	ProtectionNone      = types.ProtectionNone
	ProtectionTransport = types.ProtectionTransport
	ProtectionEndToEnd  = types.ProtectionEndToEnd

	KindText        = types.KindText
	KindImage       = types.KindImage
	KindVideo       = types.KindVideo
	KindAudio       = types.KindAudio
	KindLocation    = types.KindLocation
	KindCall        = types.KindCall
	KindSystem      = types.KindSystem
	KindUnavailable = types.KindUnavailable
	KindKeyShare    = types.KindKeyShare

	CallAudio = types.CallAudio
	CallVideo = types.CallVideo
)

// DirectConversationID returns the conversation identifier shared by two users.
func DirectConversationID(a, b UserID) ConversationID { return types.DirectConversationID(a, b) }
