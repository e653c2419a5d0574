package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"register", "REGISTRO alice", Register{Name: "alice"}},
		{"register extra tokens ignored", "REGISTRO alice bob", Register{Name: "alice"}},
		{"register missing name", "REGISTRO", Unrecognized{Line: "REGISTRO"}},
		{"authenticate", "AUTENTICACAO alice", Authenticate{Name: "alice"}},
		{"symmetric key", "CHAVE_SIMETRICA abc==", SymmetricKey{Key: "abc=="}},
		{"list rooms", "LISTAR_SALAS", ListRooms{}},
		{"list rooms surrounding space", "  LISTAR_SALAS  ", ListRooms{}},
		{"create public", "CRIAR_SALA PUBLICA geral", CreateRoom{Room: "geral"}},
		{"create private", "CRIAR_SALA PRIVADA vip s3nha", CreateRoom{Room: "vip", Private: true, Password: "s3nha"}},
		{"create private without password", "CRIAR_SALA PRIVADA vip", CreateRoom{Room: "vip", Private: true}},
		{"create bad visibility", "CRIAR_SALA SECRETA vip", Unrecognized{Line: "CRIAR_SALA SECRETA vip"}},
		{"create missing room", "CRIAR_SALA PUBLICA", Unrecognized{Line: "CRIAR_SALA PUBLICA"}},
		{"join", "ENTRAR_SALA geral", JoinRoom{Room: "geral"}},
		{"join with password", "ENTRAR_SALA vip s3nha", JoinRoom{Room: "vip", Password: "s3nha"}},
		{"join missing room", "ENTRAR_SALA", Unrecognized{Line: "ENTRAR_SALA"}},
		{"leave", "SAIR_SALA geral", LeaveRoom{Room: "geral"}},
		{"close", "FECHAR_SALA geral", CloseRoom{Room: "geral"}},
		{"send", "ENVIAR_MENSAGEM geral ola", SendMessage{Room: "geral", Text: "ola"}},
		{"send keeps inner spacing", "ENVIAR_MENSAGEM geral ola  mundo !", SendMessage{Room: "geral", Text: "ola  mundo !"}},
		{"send empty text", "ENVIAR_MENSAGEM geral", SendMessage{Room: "geral"}},
		{"send missing room", "ENVIAR_MENSAGEM", Unrecognized{Line: "ENVIAR_MENSAGEM"}},
		{"ban", "BANIR_USUARIO geral bob", BanUser{Room: "geral", User: "bob"}},
		{"ban missing user", "BANIR_USUARIO geral", Unrecognized{Line: "BANIR_USUARIO geral"}},
		{"lowercase keyword", "listar_salas", Unrecognized{Line: "listar_salas"}},
		{"empty", "", Unrecognized{Line: ""}},
		{"garbage", "OLA MUNDO", Unrecognized{Line: "OLA MUNDO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.line))
		})
	}
}

func TestKeyword(t *testing.T) {
	assert.Equal(t, KeywordBanUser, Parse("BANIR_USUARIO a b").Keyword())
	assert.Equal(t, KeywordListRooms, Parse("LISTAR_SALAS").Keyword())
	assert.Equal(t, "", Parse("nope").Keyword())
}

func TestReplies(t *testing.T) {
	assert.Equal(t, "SALAS", RoomsReply(nil))
	assert.Equal(t, "SALAS geral dev", RoomsReply([]string{"geral", "dev"}))
	assert.Equal(t, "ENTRAR_SALA_OK alice bob", JoinedReply([]string{"alice", "bob"}))
	assert.Equal(t, "ENTROU geral bob", EnteredNotice("geral", "bob"))
	assert.Equal(t, "SAIU geral bob", LeftNotice("geral", "bob"))
	assert.Equal(t, "SALA_FECHADA geral", RoomClosedNotice("geral"))
	assert.Equal(t, "BANIDO_DA_SALA geral", BannedNotice("geral"))
	assert.Equal(t, "MENSAGEM geral bob ola", MessageNotice("geral", "bob", "ola"))
	assert.Equal(t, "ERRO sala não encontrada", Erro(MsgRoomNotFound))
	assert.Equal(t, "CHAVE_PUBLICA abc", PublicKeyReply("abc"))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("alice"))
	assert.True(t, ValidName("joão"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("abcdefghijklmnopqrstuvwxyz0123456789"))
}
