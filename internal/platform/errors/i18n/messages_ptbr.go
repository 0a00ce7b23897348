package i18n

// ptBR holds the Brazilian Portuguese message templates keyed by error code.
var ptBR = map[Code]string{
	"UNKNOWN": "Algo deu errado. Tente novamente.",

	"OBJECT_STORE_TRANSPORT":   "O serviço de armazenamento de documentos está temporariamente indisponível.",
	"OBJECT_STORE_NOT_FOUND":   "O documento {{.key}} ainda não está disponível.",
	"OBJECT_STORE_UNREACHABLE": "Não foi possível acessar o serviço de armazenamento de documentos.",

	"INVOICE_NOT_FOUND":       "Nota fiscal {{.invoiceNumber}} não encontrada",
	"INVOICE_IO_ERROR":        "A nota fiscal {{.invoiceNumber}} não pôde ser salva. Uma nova tentativa será feita em breve.",
	"INVOICE_RECORD_CORRUPT":  "O registro armazenado da nota fiscal {{.invoiceNumber}} está ilegível.",
	"STORAGE_DIR_UNCREATABLE": "O armazenamento de notas fiscais está indisponível.",

	"REGISTRY_ENTRY_MISSING": "Nenhum pedido pendente corresponde à nota fiscal {{.invoiceNumber}}.",

	"VALIDATION_MISSING_FIELD": "O campo {{.field}} é obrigatório.",
	"VALIDATION_EMPTY_FIELD":   "O campo {{.field}} não pode ficar vazio.",
	"PROTOCOL_MALFORMED_JSON":  "Não foi possível interpretar a mensagem.",
	"PROTOCOL_UNKNOWN_TYPE":    "Tipo de mensagem não suportado: {{.type}}.",

	"SINK_TRANSPORT": "O serviço de pedidos está temporariamente indisponível.",
}
