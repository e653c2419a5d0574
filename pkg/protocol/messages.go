package protocol

import "strings"

// Client keywords
const (
	KeywordRegister     = "REGISTRO"
	KeywordAuthenticate = "AUTENTICACAO"
	KeywordSymmetricKey = "CHAVE_SIMETRICA"
	KeywordListRooms    = "LISTAR_SALAS"
	KeywordCreateRoom   = "CRIAR_SALA"
	KeywordJoinRoom     = "ENTRAR_SALA"
	KeywordLeaveRoom    = "SAIR_SALA"
	KeywordCloseRoom    = "FECHAR_SALA"
	KeywordSendMessage  = "ENVIAR_MENSAGEM"
	KeywordBanUser      = "BANIR_USUARIO"

	VisibilityPublic  = "PUBLICA"
	VisibilityPrivate = "PRIVADA"
)

// Server replies and notices
const (
	ReplyRegistered = "REGISTRO_OK"
	ReplyPublicKey  = "CHAVE_PUBLICA"
	ReplyRooms      = "SALAS"
	ReplyCreated    = "CRIAR_SALA_OK"
	ReplyJoined     = "ENTRAR_SALA_OK"
	ReplyLeft       = "SAIR_SALA_OK"
	ReplyClosed     = "FECHAR_SALA_OK"
	ReplyBanned     = "BANIMENTO_OK"
	ReplyError      = "ERRO"

	NoticeEntered    = "ENTROU"
	NoticeLeft       = "SAIU"
	NoticeRoomClosed = "SALA_FECHADA"
	NoticeMessage    = "MENSAGEM"
	NoticeBanned     = "BANIDO_DA_SALA"
)

// Client-facing error texts
const (
	MsgUserExists       = "usuário já existe"
	MsgNameMismatch     = "nome de usuário difere"
	MsgKeyTransmission  = "transmissao de chave simetrica"
	MsgCannotCreateUser = "não foi possível criar usuário"
	MsgInvalidName      = "nome inválido"
	MsgRoomNotFound     = "sala não encontrada"
	MsgNotMember        = "não é membro da sala"
	MsgAdminMustClose   = "admin deve fechar a sala"
	MsgNotAdmin         = "não é admin"
	MsgRoomExists       = "sala já existe"
	MsgPrivateNeedsPass = "sala privada deve ter uma senha"
	MsgBannedFromRoom   = "banido da sala"
	MsgAlreadyMember    = "já está na sala"
	MsgWrongPassword    = "senha incorreta"
	MsgUserNotFound     = "usuário não encontrado"
	MsgCannotBanSelf    = "não pode banir a si mesmo"
	MsgUnrecognized     = "comando nao reconhecido"
	MsgInternal         = "erro interno"
)

func join(parts ...string) string {
	return strings.Join(parts, " ")
}

// Erro formats an error reply.
func Erro(msg string) string { return join(ReplyError, msg) }

// PublicKeyReply carries the server public key during the handshake.
func PublicKeyReply(key string) string { return join(ReplyPublicKey, key) }

// RoomsReply lists public rooms. An empty list renders as the bare keyword.
func RoomsReply(names []string) string {
	return join(append([]string{ReplyRooms}, names...)...)
}

// JoinedReply lists the room's members, admin first.
func JoinedReply(members []string) string {
	return join(append([]string{ReplyJoined}, members...)...)
}

func EnteredNotice(room, user string) string { return join(NoticeEntered, room, user) }

func LeftNotice(room, user string) string { return join(NoticeLeft, room, user) }

func RoomClosedNotice(room string) string { return join(NoticeRoomClosed, room) }

func BannedNotice(room string) string { return join(NoticeBanned, room) }

// MessageNotice is what room members receive for ENVIAR_MENSAGEM.
func MessageNotice(room, sender, text string) string {
	return join(NoticeMessage, room, sender, text)
}
