package sqlinline

// QSchema creates every table the service owns. It is idempotent.
const QSchema = `--sql 255892b8-78d7-4f0b-a1e5-5cc0aa9a30b5
create table if not exists figures (
    id uuid primary key,
    owner_id text not null,
    params jsonb not null,
    meta jsonb not null default '{}'::jsonb,
    status text not null default 'queued' check (status in ('queued', 'done', 'error')),
    result_image_ref text,
    error_detail text,
    failed_at timestamptz,
    cost_cents integer not null default 0,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create index if not exists figures_owner_created_idx on figures (owner_id, created_at desc);

create table if not exists credits (
    user_id text primary key,
    balance integer not null default 0 check (balance >= 0),
    updated_at timestamptz not null default now()
);

create table if not exists payments (
    id uuid primary key,
    user_id text not null,
    external_txn_id text not null unique,
    credits_added integer not null,
    amount_cents bigint not null default 0,
    status text not null,
    created_at timestamptz not null default now()
);

create index if not exists payments_user_created_idx on payments (user_id, created_at desc);

create table if not exists integration_tokens (
    provider text primary key,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create or replace function notify_figure_status() returns trigger as $$
begin
    if tg_op = 'INSERT' or new.status is distinct from old.status then
        perform pg_notify('figure_status', json_build_object(
            'id', new.id,
            'owner_id', new.owner_id,
            'status', new.status,
            'params', new.params,
            'result_image_ref', new.result_image_ref,
            'error', new.error_detail,
            'created_at', new.created_at,
            'updated_at', new.updated_at
        )::text);
    end if;
    return new;
end;
$$ language plpgsql;

drop trigger if exists figures_notify_status on figures;
create trigger figures_notify_status
    after insert or update of status on figures
    for each row execute function notify_figure_status();
`

// FigureStatusChannel is the NOTIFY channel fed by the figures trigger.
const FigureStatusChannel = "figure_status"
