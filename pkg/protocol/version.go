package protocol

// ProtocolVersion is bumped on breaking changes to persisted formats
// (session lines, audit entries) so older data can be detected.
const ProtocolVersion = 1
