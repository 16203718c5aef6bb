package bot

const (
	textAdminOnly      = "Este comando e restrito a administradores."
	textChatAdminStart = "Apenas administradores podem ativar notificacoes neste chat."
	textChatAdminStop  = "Apenas administradores podem desativar notificacoes neste chat."
	textChatAdminQuiet = "Apenas administradores podem configurar o horario de silencio neste chat."
	textRateLimited    = "Muitos comandos em pouco tempo. Aguarde um momento."
	textBusy           = "Bot ocupado. Tente novamente em instantes."

	textSubscribed = "<b>Inscricao ativada!</b>\n\n" +
		"Este chat agora recebera notificacoes de:\n" +
		"- Incidentes e problemas\n" +
		"- Janelas de manutencao programadas\n" +
		"- Resolucoes de problemas\n\n" +
		"Fonte: <a href=\"https://status.ix.br\">status.ix.br</a>\n\n" +
		"Use /silencio para configurar horario de silencio.\n" +
		"Use /stop para desativar as notificacoes.\n" +
		"Use /help para mais informacoes."

	textAlreadySubscribed = "Este chat ja esta inscrito para receber notificacoes.\n\n" +
		"Use /stop para desativar as notificacoes.\n" +
		"Use /help para mais informacoes."

	textUnsubscribed = "<b>Inscricao desativada!</b>\n\n" +
		"Este chat nao recebera mais notificacoes do IX.br.\n\n" +
		"Use /start para reativar as notificacoes."

	textNotSubscribed = "Este chat nao estava inscrito.\n\n" +
		"Use /start para ativar as notificacoes."

	textQuietNeedsSubscription = "Este chat nao esta inscrito.\n\n" +
		"Use /start para ativar as notificacoes antes de configurar o horario de silencio."

	textChecking = "Verificando status..."

	textHelp = "<b>IX.br Status Bot</b>\n\n" +
		"Este bot envia notificacoes sobre o status do IX.br " +
		"(PTT - Ponto de Troca de Trafego brasileiro).\n\n" +
		"<b>Comandos disponiveis:</b>\n" +
		"/start - Ativar notificacoes neste chat\n" +
		"/stop - Desativar notificacoes\n" +
		"/status - Verificar status do bot e do feed\n" +
		"/silencio - Configurar horario de silencio\n" +
		"/help - Mostrar esta mensagem\n\n" +
		"<b>Tipos de notificacoes:</b>\n" +
		"- Incidentes e problemas\n" +
		"- Manutencoes programadas\n" +
		"- Problemas resolvidos\n\n" +
		"<b>Horario de silencio:</b>\n" +
		"Use /silencio 22:00 07:00 para nao receber " +
		"notificacoes durante a noite.\n\n" +
		"<b>Links uteis:</b>\n" +
		"- Pagina de Status: https://status.ix.br\n" +
		"- Site oficial: https://ix.br\n\n" +
		"<i>Desenvolvido para a comunidade de redes brasileira</i>"

	textHelpAdmin = "\n\n<b>Comandos de admin:</b>\n" +
		"/backup - Exportar backup dos chats\n" +
		"/restore - Restaurar backup (envie o arquivo)\n" +
		"/stats - Estatisticas detalhadas"

	textQuietOff = "Horario de silencio desativado.\n" +
		"Notificacoes serao enviadas imediatamente."

	textQuietManual = "Selecione uma opcao ou configure manualmente:\n" +
		"<code>/silencio HH:MM HH:MM</code> (UTC)\n" +
		"<code>/silencio BRT 22:00 07:00</code> (com timezone)"

	textQuietZones = "<b>Selecione o timezone:</b>\n\n" +
		"BRT = Brasilia (a maioria do Brasil)\n" +
		"AMT = Amazonas\n" +
		"ACT = Acre\n" +
		"FNT = Fernando de Noronha"

	textBadClock = "Formato invalido. Use HH:MM (ex: 22:00)"

	textGeneratingBackup = "Gerando backup..."
	textProcessingBackup = "Processando arquivo de backup..."
	textBackupNoChats    = "Arquivo invalido: nao contem dados de chats."
	textBackupBadJSON    = "Erro: arquivo JSON invalido."
)
