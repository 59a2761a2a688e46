package hub

const (
	HubGame = "Game"
	HubChat = "Chat"
)

// Server to client callbacks.
const (
	EventTableStatusInfo               = "TableStatusInfo"
	EventGameStarted                   = "GameStarted"
	EventBet                           = "Bet"
	EventOpenCards                     = "OpenCards"
	EventMoneyAdded                    = "MoneyAdded"
	EventMoneyRemoved                  = "MoneyRemoved"
	EventPlayerCards                   = "PlayerCards"
	EventPlayerCardOpened              = "PlayerCardOpened"
	EventPlayerCardsMucked             = "PlayerCardsMucked"
	EventMoveMoneyToPot                = "MoveMoneyToPot"
	EventGameFinished                  = "GameFinished"
	EventPlayerStatus                  = "PlayerStatus"
	EventSit                           = "Sit"
	EventStandup                       = "Standup"
	EventTableFrozen                   = "TableFrozen"
	EventTableUnfrozen                 = "TableUnfrozen"
	EventTableOpened                   = "TableOpened"
	EventTableClosed                   = "TableClosed"
	EventTablePaused                   = "TablePaused"
	EventTableResumed                  = "TableResumed"
	EventFinalTableCardsOpened         = "FinalTableCardsOpened"
	EventTableBetParametersChanged     = "TableBetParametersChanged"
	EventTableGameTypeChanged          = "TableGameTypeChanged"
	EventTableTournamentChanged        = "TableTournamentChanged"
	EventTournamentStatusChanged       = "TournamentStatusChanged"
	EventTournamentTableChanged        = "TournamentTableChanged"
	EventTournamentPlayerGameCompleted = "TournamentPlayerGameCompleted"
	EventTournamentBetLevelChanged     = "TournamentBetLevelChanged"
	EventTournamentRoundChanged        = "TournamentRoundChanged"
	EventTournamentRebuyStatusChanged  = "TournamentRebuyStatusChanged"
	EventTournamentRebuyCountChanged   = "TournamentRebuyCountChanged"
	EventTournamentFrozen              = "TournamentFrozen"
	EventTournamentUnfrozen            = "TournamentUnfrozen"
	EventTournamentRegistration        = "TournamentRegistration"
	EventTournamentRegistrationCancel  = "TournamentRegistrationCancelled"
	EventMessage                       = "Message"
)

// Client to server invocations.
const (
	InvokeConnectToTable        = "ConnectToTable"
	InvokeDisconnectFromTable   = "DisconnectFromTable"
	InvokeSubscribeTournament   = "SubscribeTournament"
	InvokeUnsubscribeTournament = "UnsubscribeTournament"
	InvokeJoinChat              = "Join"
	InvokeLeaveChat             = "Leave"
	InvokeSendMessage           = "Send"
)
